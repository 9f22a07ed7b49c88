package prune

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClipLeavesShortTextAlone(t *testing.T) {
	t.Parallel()

	if got := Clip("till 3 offline", "details", TeamMessageConfig()); got != "till 3 offline" {
		t.Fatalf("unexpected clip: %q", got)
	}
}

func TestClipKeepsHeadAndTail(t *testing.T) {
	t.Parallel()

	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "line"
	}
	lines[0] = "FIRST"
	lines[len(lines)-1] = "LAST"
	got := Clip(strings.Join(lines, "\n"), "details", TeamMessageConfig())

	if !strings.HasPrefix(got, DefaultMarker+" details shortened") {
		t.Fatalf("missing marker: %q", got[:40])
	}
	if !strings.Contains(got, "FIRST") || !strings.HasSuffix(got, "LAST") {
		t.Fatalf("expected head and tail to survive")
	}
	if Exceeds(got, DefaultMaxBytes, DefaultMaxLines) {
		t.Fatalf("result exceeds budget: %d bytes, %d lines", len(got), CountLines(got))
	}
}

func TestClipRespectsRuneBoundaries(t *testing.T) {
	t.Parallel()

	got := Clip(strings.Repeat("é", 5000), "details", Config{MaxBytes: 101, HeadBytes: 51, HeadLines: 5})
	if !utf8.ValidString(got) {
		t.Fatalf("clip split a rune")
	}
	if len(got) > 101 {
		t.Fatalf("clip exceeded byte budget: %d", len(got))
	}
}

func TestClipOmitsWithoutHeadBudget(t *testing.T) {
	t.Parallel()

	got := Clip(strings.Repeat("x", 10000), "payload", Config{})
	if got != DefaultMarker+" payload omitted (10000 bytes, 1 lines)" {
		t.Fatalf("unexpected omission: %q", got)
	}
}
