package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrSealedFormat  = errors.New("storage: invalid sealed record format")
	ErrSealedInvalid = errors.New("storage: sealed record failed to open")
	ErrSealedConfig  = errors.New("storage: invalid sealing configuration")
)

// maxSealedLen bounds the amount of persisted data we will decode and
// allocate when opening a record.
const maxSealedLen = 1 << 16

// KeySize is the key length (in bytes) expected by the default AEAD
// (chacha20poly1305).
const KeySize = chacha20poly1305.KeySize

// sealedRecord is the serialized envelope written to the inner store.
type sealedRecord struct {
	KeyID string `cbor:"1,keyasint"`
	Box   []byte `cbor:"2,keyasint"`
}

// Sealed wraps a Store with authenticated encryption. Records are sealed
// as nonce || AEAD.Seal(plaintext), with the record key as additional
// authenticated data so a record cannot be replayed under another key.
//
// Key rotation: keys holds every accepted key; keyID selects the current
// key for sealing. Records sealed under retired keys stay readable until
// rewritten.
type Sealed struct {
	inner   Store
	keyID   string
	keys    map[string][]byte
	newAEAD func(key []byte) (cipher.AEAD, error)
}

// SealedOption configures a Sealed store.
type SealedOption func(*Sealed)

// WithAEAD swaps the AEAD construction (e.g. for AES-GCM).
func WithAEAD(f func([]byte) (cipher.AEAD, error)) SealedOption {
	return func(s *Sealed) {
		s.newAEAD = f
	}
}

// NewSealed wraps inner with AEAD sealing. Every key in the ring is
// validated against the AEAD construction up front.
func NewSealed(inner Store, keyID string, keys map[string][]byte, opts ...SealedOption) (*Sealed, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: nil inner store", ErrSealedConfig)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: nil key ring", ErrSealedConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: keyID %q not in key ring", ErrSealedConfig, keyID)
	}
	s := &Sealed{
		inner:   inner,
		keyID:   keyID,
		keys:    keys,
		newAEAD: chacha20poly1305.NewX,
	}
	for _, opt := range opts {
		opt(s)
	}
	for id, k := range s.keys {
		if _, err := s.newAEAD(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrSealedConfig, id, err)
		}
	}
	return s, nil
}

func (s *Sealed) Set(key string, value []byte) error {
	aead, err := s.newAEAD(s.keys[s.keyID])
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	box := aead.Seal(nonce, nonce, value, []byte(key))

	env, err := cbor.Marshal(sealedRecord{KeyID: s.keyID, Box: box})
	if err != nil {
		return err
	}
	return s.inner.Set(key, env)
}

func (s *Sealed) Get(key string) ([]byte, bool, error) {
	env, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(env) == 0 || len(env) > maxSealedLen {
		return nil, false, ErrSealedFormat
	}

	var rec sealedRecord
	if err := cbor.Unmarshal(env, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSealedFormat, err)
	}
	k, ok := s.keys[rec.KeyID]
	if !ok {
		return nil, false, ErrSealedInvalid
	}
	aead, err := s.newAEAD(k)
	if err != nil {
		return nil, false, err
	}
	if len(rec.Box) < aead.NonceSize()+aead.Overhead() {
		return nil, false, ErrSealedFormat
	}
	nonce, ciphertext := rec.Box[:aead.NonceSize()], rec.Box[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, false, ErrSealedInvalid
	}
	return plain, true, nil
}

func (s *Sealed) Delete(key string) error {
	return s.inner.Delete(key)
}
