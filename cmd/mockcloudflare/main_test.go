package main

import "testing"

func TestGetPort(t *testing.T) {
	t.Setenv("PORT", "")
	if got := getPort(); got != "8380" {
		t.Errorf("default port = %q, want 8380", got)
	}

	t.Setenv("PORT", "9000")
	if got := getPort(); got != "9000" {
		t.Errorf("port = %q, want 9000", got)
	}
}
