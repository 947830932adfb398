package zklogin

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

var ErrIncompleteIdentity = errors.New("zklogin: incomplete identity for address derivation")

// DeriveAddress computes the deterministic account address for an identity.
// The address is a function of the token's issuer, audience and subject
// claims plus the user's private salt: the same (claims, salt) pair always
// yields the same address, and without the salt the claims alone reveal
// nothing about the address.
func DeriveAddress(issuer, audience, subject, salt string) (string, error) {
	if issuer == "" || audience == "" || subject == "" || salt == "" {
		return "", ErrIncompleteIdentity
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	// Length-prefix each field so adjacent fields cannot be confused
	// (e.g. ("ab","c") vs ("a","bc")).
	for _, field := range []string{issuer, audience, subject, salt} {
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}

	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
