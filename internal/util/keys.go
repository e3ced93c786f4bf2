package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewAPIKey returns prefix followed by 32 random hex characters.
func NewAPIKey(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MaskKey keeps the first 8 and last 4 characters; the middle is never shown.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + key[len(key)-4:]
}
