package zklogin

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateEphemeralKeyPair_FreshPerAttempt(t *testing.T) {
	a, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.PublicKey, b.PublicKey) {
		t.Error("two attempts produced the same ephemeral key")
	}
	if len(a.PublicKey) != 32 || len(a.PrivateKey) != 64 {
		t.Errorf("unexpected key sizes: pub=%d priv=%d", len(a.PublicKey), len(a.PrivateKey))
	}
}

func TestRandomScalars(t *testing.T) {
	r1, err := GenerateRandomness()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := GenerateRandomness()
	if err != nil {
		t.Fatal(err)
	}
	if r1 == r2 {
		t.Error("randomness repeated across attempts")
	}
	s, err := GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{r1, r2, s} {
		for _, c := range v {
			if c < '0' || c > '9' {
				t.Fatalf("scalar %q is not a decimal string", v)
			}
		}
	}
}

func TestComputeNonce(t *testing.T) {
	kp, err := GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	n1, err := ComputeNonce(kp.PublicKey, DefaultMaxEpoch, "12345")
	if err != nil {
		t.Fatal(err)
	}
	if len(n1) != 43 {
		t.Errorf("nonce length = %d, want 43", len(n1))
	}

	// Deterministic in its inputs.
	n2, err := ComputeNonce(kp.PublicKey, DefaultMaxEpoch, "12345")
	if err != nil {
		t.Fatal(err)
	}
	if n1 != n2 {
		t.Error("same inputs produced different nonces")
	}

	// Sensitive to each input.
	n3, _ := ComputeNonce(kp.PublicKey, DefaultMaxEpoch, "54321")
	if n3 == n1 {
		t.Error("different randomness produced the same nonce")
	}
	n4, _ := ComputeNonce(kp.PublicKey, 7, "12345")
	if n4 == n1 {
		t.Error("different epoch bound produced the same nonce")
	}

	if _, err := ComputeNonce(kp.PublicKey[:16], DefaultMaxEpoch, "12345"); err == nil {
		t.Error("truncated public key accepted")
	}
	if _, err := ComputeNonce(kp.PublicKey, DefaultMaxEpoch, ""); err == nil {
		t.Error("empty randomness accepted")
	}
}

func TestDeriveAddress(t *testing.T) {
	const (
		iss  = "https://accounts.google.com"
		aud  = "client-123"
		sub  = "1093847261"
		salt = "129384756102938475"
	)

	addr, err := DeriveAddress(iss, aud, sub, salt)
	if err != nil {
		t.Fatal(err)
	}
	if len(addr) != 2+64 || addr[:2] != "0x" {
		t.Errorf("address %q is not 0x-prefixed 32-byte hex", addr)
	}

	// Deterministic for a stable salt.
	again, err := DeriveAddress(iss, aud, sub, salt)
	if err != nil {
		t.Fatal(err)
	}
	if addr != again {
		t.Error("same identity and salt derived different addresses")
	}

	// A different salt moves the address.
	other, err := DeriveAddress(iss, aud, sub, "42")
	if err != nil {
		t.Fatal(err)
	}
	if other == addr {
		t.Error("different salt derived the same address")
	}

	// Field boundaries are unambiguous.
	shifted, err := DeriveAddress(iss, aud+"1", sub[1:], salt)
	if err != nil {
		t.Fatal(err)
	}
	if shifted == addr {
		t.Error("shifted field boundary derived the same address")
	}

	for _, missing := range [][4]string{
		{"", aud, sub, salt},
		{iss, "", sub, salt},
		{iss, aud, "", salt},
		{iss, aud, sub, ""},
	} {
		if _, err := DeriveAddress(missing[0], missing[1], missing[2], missing[3]); !errors.Is(err, ErrIncompleteIdentity) {
			t.Errorf("DeriveAddress(%q) err = %v, want ErrIncompleteIdentity", missing, err)
		}
	}
}
