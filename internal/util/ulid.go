package util

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a new ULID string.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates a ULID for the given instant.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// CompletionID is the public id of one chat completion.
func CompletionID() string {
	return "chatcmpl-" + strings.ToLower(New())
}
