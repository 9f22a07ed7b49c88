package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

type memoryProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{objects: map[string][]byte{}}
}

func (p *memoryProvider) Put(_ context.Context, key string, reader io.Reader) error {
	if p.putErr != nil {
		return p.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
	return nil
}

func (p *memoryProvider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *memoryProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	return nil
}

func (p *memoryProvider) AccessPath(key string) string {
	return "https://files.test/" + key
}

func TestIngestStoresContentAddressedKey(t *testing.T) {
	t.Parallel()

	provider := newMemoryProvider()
	svc := NewService(nil, provider, 0)
	pdf := "%PDF-1.4\n%test document\n"
	asset, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:      "twilio:whatsapp:+27821234567",
		Mime:         "application/pdf",
		OriginalName: "invoice.pdf",
		Reader:       strings.NewReader(pdf),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(asset.StorageKey, "twilio_whatsapp_27821234567/"+asset.ContentHash[:4]+"/") {
		t.Fatalf("unexpected storage key: %s", asset.StorageKey)
	}
	if !strings.HasSuffix(asset.StorageKey, asset.ContentHash+".pdf") {
		t.Fatalf("expected pdf extension, got %s", asset.StorageKey)
	}
	if asset.URL != "https://files.test/"+asset.StorageKey {
		t.Fatalf("unexpected url: %s", asset.URL)
	}
	if asset.SizeBytes != int64(len(pdf)) || asset.ID == "" || asset.Mime != "application/pdf" {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	reader, err := svc.Open(context.Background(), asset.StorageKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != pdf {
		t.Fatalf("stored bytes mismatch")
	}

	again, err := svc.Ingest(context.Background(), IngestInput{OwnerID: "twilio:whatsapp:+27821234567", Mime: "application/pdf", Reader: strings.NewReader(pdf)})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if again.StorageKey != asset.StorageKey {
		t.Fatalf("identical content should share a key: %s vs %s", again.StorageKey, asset.StorageKey)
	}
}

func TestIngestSniffsUnknownMime(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	svc := NewService(nil, newMemoryProvider(), 0)
	asset, err := svc.Ingest(context.Background(), IngestInput{OwnerID: "u1", Mime: "application/octet-stream", Reader: bytes.NewReader(png)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.Mime != "image/png" || !strings.HasSuffix(asset.StorageKey, ".png") {
		t.Fatalf("expected png detection, got %+v", asset)
	}
}

func TestIngestErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := NewService(nil, nil, 0).Ingest(ctx, IngestInput{OwnerID: "u1", Reader: strings.NewReader("x")}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	svc := NewService(nil, newMemoryProvider(), 4)
	if _, err := svc.Ingest(ctx, IngestInput{OwnerID: "u1", Reader: strings.NewReader("too large")}); !errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("expected ErrAssetTooLarge, got %v", err)
	}
	if _, err := svc.Ingest(ctx, IngestInput{OwnerID: "u1", Reader: strings.NewReader("")}); !errors.Is(err, ErrAssetEmpty) {
		t.Fatalf("expected ErrAssetEmpty, got %v", err)
	}
	if _, err := svc.Ingest(ctx, IngestInput{OwnerID: "  ", Reader: strings.NewReader("x")}); err == nil {
		t.Fatalf("expected owner error")
	}

	failing := newMemoryProvider()
	failing.putErr = errors.New("disk full")
	if _, err := NewService(nil, failing, 0).Ingest(ctx, IngestInput{OwnerID: "u1", Reader: strings.NewReader("x")}); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSanitizeOwner(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"telegram:42":            "telegram_42",
		"twilio:whatsapp:+27821": "twilio_whatsapp_27821",
		"../etc":                 "etc",
		"":                       "",
	}
	for in, want := range cases {
		if got := sanitizeOwner(in); got != want {
			t.Fatalf("sanitizeOwner(%q) = %q, want %q", in, got, want)
		}
	}
}
