package repository

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecodeWindow(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	vals := map[string]string{
		"start": strconv.FormatInt(start.UnixNano(), 10),
		"count": "7",
		"last":  strconv.FormatInt(start.Add(time.Second).UnixNano(), 10),
	}

	w, found := decodeWindow("dk_x", vals)
	assert.True(t, found)
	assert.Equal(t, "dk_x", w.Identifier)
	assert.Equal(t, 7, w.Count)
	assert.True(t, w.Start.Equal(start))
	assert.True(t, w.LastRequest.Equal(start.Add(time.Second)))
}

func TestDecodeWindowMissingOrCorrupt(t *testing.T) {
	_, found := decodeWindow("a", nil)
	assert.False(t, found)

	_, found = decodeWindow("a", map[string]string{"start": "x", "count": "1", "last": "1"})
	assert.False(t, found)
}
