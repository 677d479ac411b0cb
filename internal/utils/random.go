package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const keySize = 32

// GenerateRandomKey returns 32 bytes from the system CSPRNG. It panics if
// the random source fails, which only happens on a broken host.
func GenerateRandomKey() []byte {
	key, err := RandomBytes(keySize)
	if err != nil {
		panic(err)
	}
	return key
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// RandomHex returns n random bytes hex-encoded (2n characters).
func RandomHex(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
