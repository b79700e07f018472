package logging

import (
	"log/slog"
	"testing"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{"long token", "cf-token-abcdef123456", "cf-t...3456"},
		{"exactly 12 chars", "abcdefghijkl", "abcd...hijk"},
		{"11 chars fully redacted", "abcdefghijk", "****"},
		{"short token", "abc", "****"},
		{"empty", "", "****"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MaskToken(tt.token); got != tt.expected {
				t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.expected)
			}
		})
	}
}

func TestMaskHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		value    string
		expected string
	}{
		// Password/secret headers (full redaction)
		{"password header", "Password", "secret123", "[REDACTED]"},
		{"secret header", "X-Secret", "topsecret", "[REDACTED]"},
		{"private key", "Private-Key", "key123", "[REDACTED]"},

		// Token/API key headers (last 4 chars)
		{"authorization bearer", "Authorization", "Bearer token-value-1234", "****1234"},
		{"x-api-key header", "X-Api-Key", "mykey123", "****y123"},
		{"x-auth-key header", "X-Auth-Key", "authkey9876", "****9876"},
		{"short token", "Authorization", "abc", "****"},

		// Case insensitive
		{"mixed case auth", "AUTHORIZATION", "secret-abcd", "****abcd"},
		{"lowercase x-api-key", "x-api-key", "token1234567890", "****7890"},

		// Non-sensitive headers (unchanged)
		{"content-type", "Content-Type", "application/json", "application/json"},
		{"user-agent", "User-Agent", "test-client/1.0", "test-client/1.0"},
		{"custom header", "X-Custom", "value", "value"},

		// Edge cases
		{"empty value", "Authorization", "", "****"},
		{"four char value", "Authorization", "1234", "****1234"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := MaskHeader(tt.header, tt.value)
			if result != tt.expected {
				t.Errorf("MaskHeader(%q, %q) = %q, want %q",
					tt.header, tt.value, result, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
