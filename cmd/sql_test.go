package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE DATABASE x;\n\n  CREATE TABLE x.t (a Int32)\n;\n")
	assert.Equal(t, []string{"CREATE DATABASE x", "CREATE TABLE x.t (a Int32)"}, got)
	assert.Empty(t, splitStatements(" ;\n; "))
}
