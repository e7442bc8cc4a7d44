package main

import "testing"

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("unexpected short id: %s", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short ids must pass through: %s", got)
	}
}

func TestIndent(t *testing.T) {
	got := indent("line1\nline2\n", "  ")
	want := "  line1\n  line2"
	if got != want {
		t.Fatalf("indent mismatch: %q != %q", got, want)
	}
}

func TestDisplayVersion(t *testing.T) {
	if got := displayVersion(""); got != "none" {
		t.Fatalf("empty version should display as none, got %s", got)
	}
	if got := displayVersion("1.0.26"); got != "1.0.26" {
		t.Fatalf("unexpected version display: %s", got)
	}
}
