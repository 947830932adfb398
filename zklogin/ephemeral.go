// Package zklogin implements the cryptographic primitives for zkLogin-style
// authentication: a single-use ephemeral keypair per sign-in attempt, a nonce
// binding that keypair to an epoch bound and a randomness scalar, and a
// deterministic account address derived from the identity token and a
// per-user salt.
package zklogin

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// DefaultMaxEpoch is the epoch bound attached to new ephemeral keys.
// The ledger-side validity window is not enforced by this client.
const DefaultMaxEpoch = 0

// scalarBytes is the entropy used for randomness and salt scalars.
// 16 bytes matches the width expected by the derivation scheme.
const scalarBytes = 16

// EphemeralKeyPair is a single-use signing keypair. It is generated fresh
// for every sign-in attempt and never reused across attempts.
type EphemeralKeyPair struct {
	PublicKey  ed25519.PublicKey  `json:"publicKey"`
	PrivateKey ed25519.PrivateKey `json:"privateKey"`
}

// GenerateEphemeralKeyPair produces a fresh ed25519 keypair.
func GenerateEphemeralKeyPair() (*EphemeralKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &EphemeralKeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// GenerateRandomness returns a fresh randomness scalar as a decimal string,
// unique per sign-in attempt.
func GenerateRandomness() (string, error) {
	return randomScalar()
}

// GenerateSalt returns a fresh user salt as a decimal string.
func GenerateSalt() (string, error) {
	return randomScalar()
}

func randomScalar() (string, error) {
	b := make([]byte, scalarBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return new(big.Int).SetBytes(b).String(), nil
}

// ComputeNonce derives the nonce binding an ephemeral public key to the
// epoch bound and randomness scalar. The result is a 43-character
// base64url string (256 bits of hash output).
func ComputeNonce(pub ed25519.PublicKey, maxEpoch uint64, randomness string) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errors.New("zklogin: invalid ephemeral public key length")
	}
	if randomness == "" {
		return "", errors.New("zklogin: empty randomness")
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write(pub)
	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], maxEpoch)
	h.Write(epoch[:])
	h.Write([]byte(randomness))

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
