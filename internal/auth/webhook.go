// ABOUTME: Webhook token hashing and verification for inbox deliveries
// ABOUTME: Tokens are stored as bcrypt hashes and compared on every delivery

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// WebhookTokenHeader carries the inbox webhook token.
const WebhookTokenHeader = "X-Webhook-Token"

// ErrEmptyWebhookToken is returned when hashing an empty token.
var ErrEmptyWebhookToken = errors.New("webhook token must not be empty")

// HashWebhookToken returns the bcrypt hash stored on the inbox.
func HashWebhookToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyWebhookToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing webhook token: %w", err)
	}
	return string(hash), nil
}

// CheckWebhookToken reports whether token matches hash. An empty hash means
// the inbox accepts any delivery.
func CheckWebhookToken(hash, token string) bool {
	if hash == "" {
		return true
	}
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
