// Package attachment stores files users send alongside their requests and
// handles spreadsheet bulk uploads.
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/media"
	"github.com/memohai/intake/internal/session"
	"github.com/memohai/intake/internal/submission"
)

// ErrNotAccepted is returned when the current step cannot hold an attachment.
var ErrNotAccepted = errors.New("attachment not accepted at this step")

// FetchError reports that the attachment could not be downloaded.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch attachment: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// StoreError reports that the storage backend rejected the attachment.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store attachment: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Storer persists attachment bytes.
type Storer interface {
	Ingest(ctx context.Context, input media.IngestInput) (media.Asset, error)
}

// Submitter records bulk uploads as requests.
type Submitter interface {
	Submit(ctx context.Context, in submission.Input) (string, error)
}

const (
	ackStored    = "📎 Attachment received! It will be included with your request.\n\nPlease continue with the requested details."
	notAccepted  = "📎 Attachments can only be added while filling in a request. Choose an option from the menu first, then send your file."
	fetchFailed  = "❌ We could not download your attachment. Please try sending it again."
	storeFailed  = "❌ We could not save your attachment. Please try sending it again."
	bulkFailed   = "❌ We could not read your spreadsheet. Please send an .xlsx or .csv file with a header row."
	bulkRejected = "Sorry, there was an error submitting your bulk upload. Please try again later."
)

// Ingestor downloads attachments through the channel resolver and stores them.
type Ingestor struct {
	logger       *slog.Logger
	resolver     channel.AttachmentResolver
	storer       Storer
	submitter    Submitter
	fetchTimeout time.Duration
	maxBytes     int64
}

// NewIngestor creates an Ingestor. A non-positive fetchTimeout means 30s.
func NewIngestor(log *slog.Logger, resolver channel.AttachmentResolver, storer Storer, submitter Submitter, fetchTimeout time.Duration, maxBytes int64) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = media.MaxAssetBytes
	}
	return &Ingestor{
		logger:       log.With(slog.String("service", "attachment")),
		resolver:     resolver,
		storer:       storer,
		submitter:    submitter,
		fetchTimeout: fetchTimeout,
		maxBytes:     maxBytes,
	}
}

// Ingest stores att as the session's pending attachment without advancing
// the step. On any error the returned session is sess unchanged and the
// returned message tells the user what happened.
func (i *Ingestor) Ingest(ctx context.Context, att channel.Attachment, sess session.Session) (session.Session, string, error) {
	if !sess.Step.AcceptsAttachment() {
		return sess, notAccepted, ErrNotAccepted
	}
	data, mime, name, err := i.fetch(ctx, att)
	if err != nil {
		return sess, fetchFailed, err
	}
	asset, err := i.store(ctx, sess.UserID, data, mime, name)
	if err != nil {
		return sess, storeFailed, err
	}
	next := sess
	next.PendingAttachment = &session.PendingAttachment{
		URL:       asset.URL,
		StorageID: asset.StorageKey,
		Mime:      asset.Mime,
	}
	i.logger.Info("attachment stored",
		slog.String("user", sess.UserID),
		slog.String("key", asset.StorageKey),
		slog.String("mime", asset.Mime))
	return next, ackStored, nil
}

// fetch resolves and reads the attachment within the fetch timeout.
func (i *Ingestor) fetch(ctx context.Context, att channel.Attachment) ([]byte, string, string, error) {
	if i.resolver == nil {
		return nil, "", "", &FetchError{Err: errors.New("no attachment resolver configured")}
	}
	if !att.HasReference() {
		return nil, "", "", &FetchError{Err: errors.New("attachment has no reference")}
	}
	if att.Size > i.maxBytes {
		return nil, "", "", &FetchError{Err: fmt.Errorf("%w: max %d bytes", media.ErrAssetTooLarge, i.maxBytes)}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, i.fetchTimeout)
	defer cancel()
	payload, err := i.resolver.ResolveAttachment(fetchCtx, att)
	if err != nil {
		return nil, "", "", &FetchError{Err: err}
	}
	defer func() {
		_ = payload.Reader.Close()
	}()
	data, err := media.ReadAllWithLimit(payload.Reader, i.maxBytes)
	if err != nil {
		return nil, "", "", &FetchError{Err: err}
	}
	if len(data) == 0 {
		return nil, "", "", &FetchError{Err: media.ErrAssetEmpty}
	}
	mime := firstNonEmpty(att.Mime, payload.Mime)
	name := firstNonEmpty(att.Name, payload.Name)
	return data, mime, name, nil
}

func (i *Ingestor) store(ctx context.Context, owner string, data []byte, mime, name string) (media.Asset, error) {
	if i.storer == nil {
		return media.Asset{}, &StoreError{Err: media.ErrProviderUnavailable}
	}
	asset, err := i.storer.Ingest(ctx, media.IngestInput{
		OwnerID:      owner,
		Mime:         mime,
		OriginalName: name,
		Reader:       bytes.NewReader(data),
		MaxBytes:     i.maxBytes,
	})
	if err != nil {
		return media.Asset{}, &StoreError{Err: err}
	}
	return asset, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
