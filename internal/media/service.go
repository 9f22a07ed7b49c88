package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Service stores attachment bytes through a StorageProvider.
type Service struct {
	provider StorageProvider
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates a media service with the given storage provider. A
// non-positive maxBytes falls back to MaxAssetBytes.
func NewService(log *slog.Logger, provider StorageProvider, maxBytes int64) *Service {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &Service{
		provider: provider,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

// MaxBytes returns the configured size limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Ingest hashes the content, sniffs the MIME type when the caller did not
// supply a usable one, and stores the bytes under
// <owner>/<hash[:4]>/<hash><ext>. Identical content from the same owner maps
// to the same key.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (Asset, error) {
	if s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	owner := sanitizeOwner(input.OwnerID)
	if owner == "" {
		return Asset{}, fmt.Errorf("owner id is required")
	}
	if input.Reader == nil {
		return Asset{}, fmt.Errorf("reader is required")
	}

	maxBytes := input.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.maxBytes
	}
	contentHash, sizeBytes, tempPath, err := spoolAndHashWithLimit(input.Reader, maxBytes)
	if err != nil {
		return Asset{}, fmt.Errorf("read input: %w", err)
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()

	mime := normalizeMime(input.Mime)
	ext := ""
	if detected, err := mimetype.DetectFile(tempPath); err == nil {
		if mime == "" || mime == "application/octet-stream" {
			mime = detected.String()
		}
		ext = detected.Extension()
	}
	if known := mimetype.Lookup(mime); known != nil && known.Extension() != "" {
		ext = known.Extension()
	}
	if ext == "" {
		ext = path.Ext(strings.TrimSpace(input.OriginalName))
	}
	if ext == "" {
		ext = ".bin"
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	storageKey := path.Join(owner, contentHash[:4], contentHash+strings.ToLower(ext))
	tempFile, err := os.Open(tempPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open temp file: %w", err)
	}
	defer func() {
		_ = tempFile.Close()
	}()
	if err := s.provider.Put(ctx, storageKey, tempFile); err != nil {
		return Asset{}, fmt.Errorf("store media: %w", err)
	}
	s.logger.Debug("media stored",
		slog.String("owner", owner),
		slog.String("key", storageKey),
		slog.Int64("size", sizeBytes))

	return Asset{
		ID:           uuid.NewString(),
		OwnerID:      input.OwnerID,
		ContentHash:  contentHash,
		Mime:         mime,
		SizeBytes:    sizeBytes,
		StorageKey:   storageKey,
		OriginalName: strings.TrimSpace(input.OriginalName),
		URL:          s.provider.AccessPath(storageKey),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Open returns a reader for a stored key.
func (s *Service) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	reader, err := s.provider.Open(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return reader, nil
}

// AccessPath returns a consumer-accessible reference for a stored key.
func (s *Service) AccessPath(storageKey string) string {
	if s.provider == nil {
		return ""
	}
	return s.provider.AccessPath(storageKey)
}

var unsafeOwnerChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeOwner maps a user key such as "twilio:whatsapp:+2782" to a single
// safe path segment.
func sanitizeOwner(owner string) string {
	owner = unsafeOwnerChars.ReplaceAllString(strings.TrimSpace(owner), "_")
	owner = strings.Trim(owner, "._")
	return owner
}

func normalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

func spoolAndHashWithLimit(reader io.Reader, maxBytes int64) (string, int64, string, error) {
	if reader == nil {
		return "", 0, "", fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, "", fmt.Errorf("max bytes must be greater than 0")
	}
	tempFile, err := os.CreateTemp("", "intake-media-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, "", fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, "", ErrAssetEmpty
	}
	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}
