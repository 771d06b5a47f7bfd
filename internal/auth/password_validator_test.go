package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

// A hash verifies its own password and nothing else
func TestProperty_HashVerifiesOnlyItsPassword(t *testing.T) {
	v := NewPasswordValidatorWithCost(bcrypt.MinCost)

	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringMatching(`[a-zA-Z0-9 !?.]{8,40}`).Draw(t, "password")
		other := rapid.StringMatching(`[a-zA-Z0-9 !?.]{8,40}`).Draw(t, "other")

		hash, err := v.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if hash == password {
			t.Fatal("hash equals plaintext")
		}
		if err := v.VerifyPassword(password, hash); err != nil {
			t.Fatalf("own password rejected: %v", err)
		}
		if other != password && v.VerifyPassword(other, hash) == nil {
			t.Fatal("different password accepted")
		}
	})
}

func TestPasswordValidator_Cost(t *testing.T) {
	v := NewPasswordValidatorWithCost(bcrypt.MinCost)
	hash, err := v.HashPassword("password1")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != bcrypt.MinCost {
		t.Errorf("expected cost %d, got %d (%v)", bcrypt.MinCost, cost, err)
	}

	if got := NewPasswordValidatorWithCost(1000); got.cost != DefaultBcryptCost {
		t.Errorf("out of range cost should fall back to default, got %d", got.cost)
	}
}

func TestPasswordValidator_TooLong(t *testing.T) {
	v := NewPasswordValidatorWithCost(bcrypt.MinCost)
	if _, err := v.HashPassword(strings.Repeat("a", 73)); !errors.Is(err, bcrypt.ErrPasswordTooLong) {
		t.Errorf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestPasswordValidator_BurnComparison(t *testing.T) {
	v := NewPasswordValidatorWithCost(bcrypt.MinCost)
	v.BurnComparison("anything")
	v.BurnComparison("anything else")
	if len(v.dummyHash) == 0 {
		t.Error("expected the dummy hash to be prepared once")
	}
}
