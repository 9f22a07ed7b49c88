package media

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestReadAllWithLimitAcceptsUpToMax(t *testing.T) {
	t.Parallel()

	slip := "%PDF-1.4 deposit slip"
	for _, max := range []int64{int64(len(slip)), MaxAssetBytes} {
		got, err := ReadAllWithLimit(strings.NewReader(slip), max)
		if err != nil {
			t.Fatalf("max %d: unexpected error: %v", max, err)
		}
		if string(got) != slip {
			t.Fatalf("max %d: payload changed: %q", max, got)
		}
	}
}

func TestReadAllWithLimitRejects(t *testing.T) {
	t.Parallel()

	if _, err := ReadAllWithLimit(strings.NewReader("0123456789"), 9); !errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("expected ErrAssetTooLarge one byte over, got %v", err)
	}
	if _, err := ReadAllWithLimit(nil, 10); err == nil {
		t.Fatalf("expected error for nil reader")
	}
	if _, err := ReadAllWithLimit(strings.NewReader("x"), 0); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
	_, err := ReadAllWithLimit(io.MultiReader(strings.NewReader("head"), brokenReader{}), 100)
	if err == nil || errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("expected read error to pass through, got %v", err)
	}
}
