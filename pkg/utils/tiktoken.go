// Package utils provides token counting and text bounding helpers.
package utils

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter for model. Every model is approximated with the
// GPT-4 encoding; the count only bounds context growth and labels metrics.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the token count, falling back to len/4 if the codec fails.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

//nolint:gochecknoglobals // shared codec, built once
var (
	sharedCounter     *TokenCounter
	sharedCounterOnce sync.Once
)

// CountTokensSimple counts tokens with a process-wide GPT-4 codec.
func CountTokensSimple(text string) int {
	sharedCounterOnce.Do(func() {
		c, err := NewTokenCounter("gpt-4")
		if err == nil {
			sharedCounter = c
		}
	})
	return sharedCounter.CountTokens(text)
}

// TruncateUTF8 cuts s to at most limit bytes without splitting a rune.
// The second result reports whether anything was removed.
func TruncateUTF8(s string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
