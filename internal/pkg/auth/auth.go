// Package auth maps API keys to the configured users they belong to.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/tjfontaine/tradeflow/internal/pkg/config"
)

var (
	ErrInvalidKey    = errors.New("invalid API key")
	ErrMissingHeader = errors.New("missing Authorization header")
	ErrBadScheme     = errors.New("unsupported authorization scheme")
)

// Authenticator validates API keys and resolves the user they belong to.
type Authenticator struct {
	users map[string]*config.UserConfig // lowercased key hash -> user
}

// NewAuthenticator indexes every key hash of every user. Users without an
// ID are ignored, and a hash listed under two different users is dropped
// for both so that a copy-paste mistake cannot log one party in as the other.
func NewAuthenticator(users []config.UserConfig) *Authenticator {
	a := &Authenticator{users: make(map[string]*config.UserConfig)}
	ambiguous := make(map[string]bool)

	for i := range users {
		u := &users[i]
		if u.ID == "" {
			continue
		}
		for _, key := range u.APIKeys {
			h := strings.ToLower(strings.TrimSpace(key.KeyHash))
			if h == "" || ambiguous[h] {
				continue
			}
			if prev, ok := a.users[h]; ok && prev.ID != u.ID {
				delete(a.users, h)
				ambiguous[h] = true
				continue
			}
			a.users[h] = u
		}
	}

	return a
}

// Keys reports how many distinct key hashes authenticate someone.
func (a *Authenticator) Keys() int {
	return len(a.users)
}

// ValidateAPIKey returns the user owning apiKey.
func (a *Authenticator) ValidateAPIKey(apiKey string) (*config.UserConfig, error) {
	if apiKey == "" {
		return nil, ErrInvalidKey
	}
	keyHash := HashAPIKey(apiKey)

	u, ok := a.users[keyHash]
	if !ok {
		return nil, ErrInvalidKey
	}
	for _, key := range u.APIKeys {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(strings.TrimSpace(key.KeyHash)))) == 1 {
			return u, nil
		}
	}
	return nil, ErrInvalidKey
}

// ExtractAPIKey returns the bearer token of the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingHeader
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok {
		return "", ErrBadScheme
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidKey
	}
	return token, nil
}

// HashAPIKey is the hex SHA-256 of apiKey, the form kept in config.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
