package auth

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(1, 8*1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(2); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Stop)
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)
	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("unexpected encoding: %s", encoded)
	}
	match, needsRehash, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !match {
		t.Error("correct password rejected")
	}
	if needsRehash {
		t.Error("fresh hash should not need a rehash")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	h := testHasher(t)
	encoded, err := h.Hash("secret")
	if err != nil {
		t.Fatal(err)
	}
	match, _, err := h.Verify("wrong", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if match {
		t.Error("wrong password accepted")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := testHasher(t)
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2id$garbage",
		"$argon2id$v=19$m=999999999,t=1,p=1$c2FsdA$aGFzaA",
	} {
		match, _, err := h.Verify("anything", encoded)
		if err != nil {
			t.Fatalf("malformed hash %q returned error: %v", encoded, err)
		}
		if match {
			t.Errorf("malformed hash %q verified", encoded)
		}
	}
}

func TestVerifyDetectsStaleParams(t *testing.T) {
	// Encoded with weaker parameters than the hasher is configured for.
	weak, err := NewHasher(1, 8*1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := weak.Start(1); err != nil {
		t.Fatal(err)
	}
	defer weak.Stop()
	encoded, err := weak.Hash("pw")
	if err != nil {
		t.Fatal(err)
	}
	strong, err := NewHasher(2, 16*1024, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := strong.Start(1); err != nil {
		t.Fatal(err)
	}
	defer strong.Stop()
	match, needsRehash, err := strong.Verify("pw", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !match {
		t.Fatal("password should still verify under old params")
	}
	if !needsRehash {
		t.Error("stale parameters should be flagged for rehash")
	}
}

func TestHashUniqueSalts(t *testing.T) {
	h := testHasher(t)
	a, err := h.Hash("same")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Hash("same")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password must differ")
	}
}

func TestOverlongPasswordRejected(t *testing.T) {
	h := testHasher(t)
	long := strings.Repeat("x", maxPasswordLength+1)
	if _, err := h.Hash(long); err == nil {
		t.Error("expected error hashing overlong password")
	}
	match, _, err := h.Verify(long, "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA")
	if err != nil {
		t.Fatal(err)
	}
	if match {
		t.Error("overlong password verified")
	}
}

func TestNewHasherValidation(t *testing.T) {
	if _, err := NewHasher(0, 8*1024, 1); err == nil {
		t.Error("zero iterations accepted")
	}
	if _, err := NewHasher(1, 100, 1); err == nil {
		t.Error("tiny memory accepted")
	}
	if _, err := NewHasher(1, 8*1024, 0); err == nil {
		t.Error("zero parallelism accepted")
	}
}
