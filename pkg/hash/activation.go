package hash

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = bcrypt.DefaultCost

	// ActivationCodeLength is the number of characters in a lost-mode code.
	ActivationCodeLength = 6

	activationAlphabet = "0123456789"
)

// GenerateActivationCode returns a random numeric code a device owner reads
// out to unlock a device in lost mode.
func GenerateActivationCode() (string, error) {
	code := make([]byte, ActivationCodeLength)
	max := big.NewInt(int64(len(activationAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate activation code: %w", err)
		}
		code[i] = activationAlphabet[n.Int64()]
	}
	return string(code), nil
}

func Hash(code string) (string, error) {
	if len(code) < ActivationCodeLength {
		return "", fmt.Errorf("activation code must be at least %d characters", ActivationCodeLength)
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash activation code: %w", err)
	}

	return string(hashedBytes), nil
}

func Compare(hashedCode, code string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedCode), []byte(code))
}
