package password

import (
	"strings"
	"testing"
)

func TestHashAndVerify_OK(t *testing.T) {
	cfg := FastConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "this is a strong password 123!")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := FastConfig()

	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := FastConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := FastConfig()

	ok, err := cfg.Verify("not-a-hash", "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := FastConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 8

	if err := cfg.Validate("password"); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("11111111"); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	cfg := FastConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("fresh hash should not need rehash")
	}

	stronger := cfg
	stronger.Params.Iterations = 2
	if !stronger.NeedsRehash(h) {
		t.Fatalf("changed iterations should require rehash")
	}
	if !cfg.NeedsRehash("garbage") {
		t.Fatalf("malformed hash should require rehash")
	}
}

func TestVerify_RefusesOversizedParams(t *testing.T) {
	cfg := FastConfig()

	huge := "$argon2id$v=19$m=4194304,t=3,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"
	ok, err := cfg.Verify(huge, "whatever")
	if err != ErrInvalidHash || ok {
		t.Fatalf("expected ErrInvalidHash for oversized params, got ok=%v err=%v", ok, err)
	}
}

func TestValidateFor_RejectsIdentityFragments(t *testing.T) {
	cfg := FastConfig()
	cfg.Policy.RejectVeryWeak = true
	sub := Subject{Email: "Marguerite.Chef@tearoom.test", DisplayName: "Marguerite Duval"}

	for _, pw := range []string{
		"marguerite.chef-2026!",
		"my name is DUVAL forever",
		"Marguerite rocks the kitchen",
	} {
		if err := cfg.ValidateFor(pw, sub); err != ErrPasswordMatchesIdentity {
			t.Fatalf("ValidateFor(%q): expected ErrPasswordMatchesIdentity, got %v", pw, err)
		}
	}
	if err := cfg.ValidateFor("oolong and jasmine at noon", sub); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	// Fragments shorter than four runes are not matched.
	if err := cfg.ValidateFor("bob's oolong at noon", Subject{Email: "bob@tearoom.test"}); err != nil {
		t.Fatalf("short local part should not match, got %v", err)
	}

	cfg.Policy.RejectVeryWeak = false
	if err := cfg.ValidateFor("marguerite.chef-2026!", sub); err != nil {
		t.Fatalf("identity check is part of the weak-pattern rules, got %v", err)
	}
}

func TestHashFor_ValidatesBeforeHashing(t *testing.T) {
	cfg := FastConfig()
	cfg.Policy.RejectVeryWeak = true

	if _, err := cfg.HashFor("samovar-lover-99", Subject{Email: "samovar@tearoom.test"}); err != ErrPasswordMatchesIdentity {
		t.Fatalf("expected ErrPasswordMatchesIdentity, got %v", err)
	}

	h, err := cfg.HashFor("oolong and jasmine at noon", Subject{Email: "samovar@tearoom.test"})
	if err != nil {
		t.Fatalf("HashFor error: %v", err)
	}
	if ok, err := cfg.Verify(h, "oolong and jasmine at noon"); err != nil || !ok {
		t.Fatalf("Verify failed: ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", h)
	}
}
