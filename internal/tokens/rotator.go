// Package tokens supplies API credentials in round-robin order so outbound
// calls can be spread across several tokens.
package tokens

import (
	"strings"
	"sync"

	"github.com/rohankatakam/harvest/internal/errors"
)

// Rotator cycles through an ordered list of tokens.
// The next token is always tokens[index mod len(tokens)].
type Rotator struct {
	mu     sync.Mutex
	tokens []string
	index  int
}

// NewRotator builds a rotator over tokens, keeping their order.
// An absent or empty list, or a blank entry, is a configuration error.
func NewRotator(tokens []string) (*Rotator, error) {
	if len(tokens) == 0 {
		return nil, errors.ConfigError("the oauth token list cannot be empty, check github.tokens in your configuration")
	}
	for i, t := range tokens {
		if strings.TrimSpace(t) == "" {
			return nil, errors.ConfigErrorf("oauth token at position %d is blank", i)
		}
	}

	owned := make([]string, len(tokens))
	copy(owned, tokens)
	return &Rotator{tokens: owned}, nil
}

// Next returns the next token, wrapping to the first after the last
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tokens[r.index%len(r.tokens)]
	r.index = (r.index + 1) % len(r.tokens)
	return t
}

// Reset restarts the cycle at the first token
func (r *Rotator) Reset() {
	r.mu.Lock()
	r.index = 0
	r.mu.Unlock()
}

// Len returns the number of tokens in the cycle
func (r *Rotator) Len() int {
	return len(r.tokens)
}

// Tokens returns a copy of the tokens in rotation order
func (r *Rotator) Tokens() []string {
	out := make([]string, len(r.tokens))
	copy(out, r.tokens)
	return out
}
