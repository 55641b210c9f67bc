package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomString(t *testing.T) {
	first, err := GenerateRandomString(32)
	if err != nil {
		t.Fatalf("failed to generate: %v", err)
	}
	second, err := GenerateRandomString(32)
	if err != nil {
		t.Fatalf("failed to generate: %v", err)
	}

	if first == second {
		t.Fatal("two random strings must not collide")
	}
	if strings.ContainsAny(first, "+/=") {
		t.Errorf("expected URL-safe encoding, got %q", first)
	}
}

func TestGenerateDigits(t *testing.T) {
	t.Run("produces digit strings of the requested length", func(t *testing.T) {
		code, err := GenerateDigits(6)
		if err != nil {
			t.Fatalf("failed to generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit %q in code %q", c, code)
			}
		}
	})

	t.Run("draws every digit value", func(t *testing.T) {
		// With 12000 samples a digit that can occur is missing with
		// vanishing probability; a biased or truncated range shows up
		// here immediately.
		seen := make(map[rune]bool)
		for i := 0; i < 2000; i++ {
			code, err := GenerateDigits(6)
			if err != nil {
				t.Fatalf("failed to generate: %v", err)
			}
			for _, c := range code {
				seen[c] = true
			}
		}
		for c := '0'; c <= '9'; c++ {
			if !seen[c] {
				t.Errorf("digit %q never generated", c)
			}
		}
	})
}
