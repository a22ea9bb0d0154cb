package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Cost matches the salt rounds the original user rows were hashed with.
const Cost = 10

var ErrBadCredentials = errors.New("invalid username or password")

func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password required")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword returns ErrBadCredentials for any mismatch.
func CheckPassword(hash, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return ErrBadCredentials
	}
	return nil
}
