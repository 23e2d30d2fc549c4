package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{strings.Repeat("word ", 100), 90, 110},
	}
	for _, tt := range tests {
		got := counter.CountTokens(tt.text)
		if got < tt.minTokens || got > tt.maxTokens {
			t.Errorf("CountTokens(%q) = %d, want [%d,%d]", tt.text, got, tt.minTokens, tt.maxTokens)
		}
	}
}

func TestCountTokensSimpleMatchesCounter(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatal(err)
	}
	text := "The scheduler serializes writes to the same path."
	if CountTokensSimple(text) != counter.CountTokens(text) {
		t.Error("Expected shared counter to agree with a fresh counter")
	}
}

func TestNilCounterFallback(t *testing.T) {
	var tc *TokenCounter
	if got := tc.CountTokens("12345678"); got != 2 {
		t.Errorf("Expected len/4 fallback, got %d", got)
	}
}

func TestTruncateUTF8(t *testing.T) {
	s, cut := TruncateUTF8("hello", 10)
	if s != "hello" || cut {
		t.Errorf("Expected no truncation, got %q %v", s, cut)
	}

	s, cut = TruncateUTF8("hello world", 5)
	if s != "hello" || !cut {
		t.Errorf("Expected 'hello', got %q %v", s, cut)
	}

	// "é" is two bytes; cutting at 2 would split it.
	s, cut = TruncateUTF8("aé", 2)
	if !cut || !utf8.ValidString(s) || s != "a" {
		t.Errorf("Expected rune-safe cut to 'a', got %q", s)
	}
}
