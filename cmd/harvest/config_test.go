package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rohankatakam/harvest/internal/config"
	"github.com/rohankatakam/harvest/internal/models"
)

func TestRedacted(t *testing.T) {
	c := config.Default()
	c.GitHub.Token = "ghp_abcdefghijklmnop"
	c.GitHub.Tokens = []string{"short", "ghp_1234567890abcd"}
	c.Neo4j.Password = "secret"

	out := redacted(c)
	assert.Equal(t, "ghp_****mnop", out.GitHub.Token)
	assert.Equal(t, []string{"****", "ghp_****abcd"}, out.GitHub.Tokens)
	assert.Equal(t, "****", out.Neo4j.Password)

	// the loaded config is untouched
	assert.Equal(t, "ghp_abcdefghijklmnop", c.GitHub.Token)
	assert.Equal(t, "short", c.GitHub.Tokens[0])
}

func TestFormatKinds(t *testing.T) {
	assert.Equal(t, "", formatKinds(nil))
	assert.Equal(t, "(Create=2, Unknown=1)", formatKinds(map[models.ActionKind]int{
		models.ActionUnknown: 1,
		models.ActionCreate:  2,
	}))
}
