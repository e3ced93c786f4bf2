package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIKeyShape(t *testing.T) {
	k := NewAPIKey("dk_")
	require.True(t, strings.HasPrefix(k, "dk_"))
	assert.Len(t, k, 3+32)
	assert.NotEqual(t, k, NewAPIKey("dk_"))
}

func TestMaskKeyHidesMiddle(t *testing.T) {
	k := "dk_0123456789abcdef0123456789abcdef"
	m := MaskKey(k)

	assert.Equal(t, "dk_01234...cdef", m)
	assert.NotContains(t, m, k[8:len(k)-4])
	assert.Equal(t, "****", MaskKey("dk_x"))
}

func TestULIDsAreOrdered(t *testing.T) {
	a, b := New(), New()
	assert.Less(t, a, b)
	assert.True(t, strings.HasPrefix(CompletionID(), "chatcmpl-"))
}
