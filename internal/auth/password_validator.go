package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost factor used outside tests
const DefaultBcryptCost = 12

// PasswordValidator handles password validation and hashing
type PasswordValidator struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordValidator creates a validator hashing at DefaultBcryptCost
func NewPasswordValidator() *PasswordValidator {
	return NewPasswordValidatorWithCost(DefaultBcryptCost)
}

// NewPasswordValidatorWithCost creates a validator with an explicit bcrypt cost
func NewPasswordValidatorWithCost(cost int) *PasswordValidator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordValidator{cost: cost}
}

// HashPassword creates a bcrypt hash of the password
func (v *PasswordValidator) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password with its bcrypt hash
func (v *PasswordValidator) VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// BurnComparison runs a comparison against a fixed hash so that unknown
// usernames take as long to reject as wrong passwords.
func (v *PasswordValidator) BurnComparison(password string) {
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), v.cost)
	})
	_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
}
