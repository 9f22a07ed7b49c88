package gcs

import "testing"

func TestAccessPath(t *testing.T) {
	t.Parallel()

	if got := accessPath("intake-files", "", "/u1/ab/x.pdf"); got != "gs://intake-files/u1/ab/x.pdf" {
		t.Fatalf("accessPath without base = %q", got)
	}
	if got := accessPath("intake-files", "https://cdn.example.com", "u1/ab/x.pdf"); got != "https://cdn.example.com/u1/ab/x.pdf" {
		t.Fatalf("accessPath with base = %q", got)
	}
}

func TestContentTypeForKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a/b.PDF":  "application/pdf",
		"a/b.jpeg": "image/jpeg",
		"a/b.csv":  "text/csv",
		"a/b.bin":  "",
	}
	for key, want := range cases {
		if got := contentTypeForKey(key); got != want {
			t.Fatalf("contentTypeForKey(%q) = %q, want %q", key, got, want)
		}
	}
}
