package core

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"

	"github.com/orrn/printrelease/internal/utils"
)

// TokenBytes is the entropy of a secure token: 128 bits, hex-encoded to 32
// characters.
const TokenBytes = 16

type TokenGenerator interface {
	Generate() (string, error)
}

type randomTokenGenerator struct{}

// NewTokenGenerator returns the CSPRNG-backed generator used in production.
func NewTokenGenerator() TokenGenerator {
	return randomTokenGenerator{}
}

func (randomTokenGenerator) Generate() (string, error) {
	token, err := utils.RandomHex(TokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return token, nil
}

// TokenMatches compares a presented token with the stored one in constant
// time. An empty stored token never matches.
func TokenMatches(stored, presented string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// BuildReleaseLink derives the informational link handed to the print shop.
func BuildReleaseLink(baseURL, jobID, token string) string {
	return fmt.Sprintf("%s/release/%s?token=%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(jobID), url.QueryEscape(token))
}
