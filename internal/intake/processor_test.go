package intake

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memohai/intake/internal/attachment"
	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/conversation"
	"github.com/memohai/intake/internal/media"
	"github.com/memohai/intake/internal/requests"
	"github.com/memohai/intake/internal/session"
	"github.com/memohai/intake/internal/submission"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSender) Send(_ context.Context, _ channel.Target, msg channel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, msg.Text)
	return nil
}

func (s *recordingSender) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.texts, "\n====\n")
}

type staticResolver struct{}

func (staticResolver) ResolveAttachment(_ context.Context, att channel.Attachment) (channel.AttachmentPayload, error) {
	return channel.AttachmentPayload{Reader: io.NopCloser(strings.NewReader("bytes of " + att.Reference())), Mime: att.Mime}, nil
}

type urlStorer struct{}

func (urlStorer) Ingest(_ context.Context, in media.IngestInput) (media.Asset, error) {
	return media.Asset{StorageKey: in.OwnerID + "/key", URL: "https://files.example.com/" + in.OriginalName, Mime: in.Mime}, nil
}

type harness struct {
	processor *Processor
	sessions  *session.MemoryStore
	records   *requests.MemoryStore
	sender    *recordingSender
}

func newHarness() *harness {
	sessions := session.NewMemoryStore()
	records := requests.NewMemoryStore()
	sub := submission.NewService(nil, records, nil)
	engine := conversation.NewEngine(nil, conversation.DefaultCatalog(), sub, records)
	ingestor := attachment.NewIngestor(nil, staticResolver{}, urlStorer{}, sub, time.Second, 0)
	sender := &recordingSender{}
	return &harness{
		processor: NewProcessor(nil, sessions, session.NewKeyedMutex(), engine, ingestor, sender),
		sessions:  sessions,
		records:   records,
		sender:    sender,
	}
}

func inbound(text string, atts ...channel.Attachment) channel.InboundMessage {
	return channel.InboundMessage{
		Channel: "twilio",
		Sender:  channel.Identity{SubjectID: "whatsapp:+27821234567"},
		Message: channel.Message{Text: text, Attachments: atts},
	}
}

func (h *harness) send(t *testing.T, msg channel.InboundMessage) {
	t.Helper()
	if err := h.processor.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound(%q) failed: %v", msg.Message.Text, err)
	}
}

func TestFullConversationWithAttachment(t *testing.T) {
	t.Parallel()

	h := newHarness()
	for _, text := range []string{"hi", "1", "1", "3", "1"} {
		h.send(t, inbound(text))
	}
	sess, _ := h.sessions.Get(context.Background(), "twilio:whatsapp:+27821234567")
	if sess.Step != session.StepDocumentDetails || sess.ActiveRequestType != requests.TypeTDDocument {
		t.Fatalf("unexpected session before details: %+v", sess)
	}

	slip := channel.Attachment{Type: channel.AttachmentImage, URL: "https://api.twilio.com/m/1", Mime: "image/jpeg", Name: "slip.jpg"}
	h.send(t, inbound("John Smith\nDoornkop\n0123456789", slip))

	records, err := h.records.List(context.Background(), requests.Filter{})
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d %v", len(records), err)
	}
	rec := records[0]
	if rec.Type != requests.TypeTDDocument || rec.Store != "Doornkop" || rec.Region != "Central" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.AttachmentRef != "https://files.example.com/slip.jpg" {
		t.Fatalf("attachment should ride along with the submission: %+v", rec)
	}
	if rec.UserID != "twilio:whatsapp:+27821234567" {
		t.Fatalf("unexpected owner: %s", rec.UserID)
	}
	out := h.sender.joined()
	for _, want := range []string{"Attachment received", "Your Query ID: #" + rec.ID, "Store selected: Doornkop"} {
		if !strings.Contains(out, want) {
			t.Fatalf("replies missing %q:\n%s", want, out)
		}
	}
	sess, _ = h.sessions.Get(context.Background(), "twilio:whatsapp:+27821234567")
	if sess.Step != session.StepMainMenu || sess.PendingAttachment != nil {
		t.Fatalf("expected clean main menu, got %+v", sess)
	}
}

func TestAttachmentRejectedAtMenu(t *testing.T) {
	t.Parallel()

	h := newHarness()
	photo := channel.Attachment{Type: channel.AttachmentImage, URL: "https://m/1", Mime: "image/jpeg"}
	h.send(t, inbound("", photo))
	if !strings.Contains(h.sender.joined(), "Attachments can only be added") {
		t.Fatalf("expected rejection notice, got %s", h.sender.joined())
	}
	sess, _ := h.sessions.Get(context.Background(), "twilio:whatsapp:+27821234567")
	if sess.PendingAttachment != nil || sess.Step != session.StepGreeting {
		t.Fatalf("session must be unchanged: %+v", sess)
	}
}

func TestSpreadsheetBypassesSteps(t *testing.T) {
	t.Parallel()

	h := newHarness()
	sheet := channel.Attachment{Type: channel.AttachmentFile, URL: "https://m/sheet", Mime: "text/csv", Name: "customers.csv"}
	h.send(t, inbound("", sheet))
	records, _ := h.records.List(context.Background(), requests.Filter{})
	if len(records) != 1 || records[0].Type != requests.TypeBulkCustomers || records[0].Store != "unknown" {
		t.Fatalf("expected bulk record, got %+v", records)
	}
}

type failingSessions struct {
	*session.MemoryStore
}

func (failingSessions) Put(context.Context, session.Session) error {
	return errors.New("disk full")
}

func TestSaveFailureSendsApology(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.processor.sessions = failingSessions{MemoryStore: session.NewMemoryStore()}
	err := h.processor.HandleInbound(context.Background(), inbound("hi"))
	if err == nil {
		t.Fatal("expected save error")
	}
	if h.sender.joined() != apology {
		t.Fatalf("expected only the apology, got %q", h.sender.joined())
	}
}

// flakySessions fails the next Put once when armed.
type flakySessions struct {
	*session.MemoryStore
	failNext atomic.Bool
}

func (f *flakySessions) Put(ctx context.Context, sess session.Session) error {
	if f.failNext.CompareAndSwap(true, false) {
		return errors.New("db blip")
	}
	return f.MemoryStore.Put(ctx, sess)
}

func TestSaveFailureAfterSubmissionIsAcknowledged(t *testing.T) {
	t.Parallel()

	h := newHarness()
	flaky := &flakySessions{MemoryStore: session.NewMemoryStore()}
	h.processor.sessions = flaky
	for _, text := range []string{"hi", "1", "1", "1", "2"} {
		h.send(t, inbound(text))
	}

	flaky.failNext.Store(true)
	if err := h.processor.HandleInbound(context.Background(), inbound("EMP001")); err != nil {
		t.Fatalf("a turn that created a record must be acknowledged, got %v", err)
	}
	records, _ := h.records.List(context.Background(), requests.Filter{})
	if len(records) != 1 || records[0].Type != requests.TypeSystemBalance {
		t.Fatalf("expected exactly one system balance record, got %+v", records)
	}
	out := h.sender.joined()
	if !strings.Contains(out, "#"+records[0].ID) || strings.Contains(out, apology) {
		t.Fatalf("expected confirmation without apology, got:\n%s", out)
	}
}

func TestRejectsAnonymousSender(t *testing.T) {
	t.Parallel()

	h := newHarness()
	msg := inbound("hi")
	msg.Sender.SubjectID = ""
	if err := h.processor.HandleInbound(context.Background(), msg); err == nil {
		t.Fatal("expected error for missing sender")
	}
}

// overlapDetector fails when two turns for the same user interleave.
type overlapDetector struct {
	*session.MemoryStore
	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func (d *overlapDetector) Get(ctx context.Context, userID string) (session.Session, error) {
	if d.inFlight.Add(1) > 1 {
		d.overlapped.Store(true)
	}
	time.Sleep(time.Millisecond)
	return d.MemoryStore.Get(ctx, userID)
}

func (d *overlapDetector) Put(ctx context.Context, sess session.Session) error {
	defer d.inFlight.Add(-1)
	return d.MemoryStore.Put(ctx, sess)
}

func TestTurnsAreSerializedPerUser(t *testing.T) {
	t.Parallel()

	h := newHarness()
	detector := &overlapDetector{MemoryStore: session.NewMemoryStore()}
	h.processor.sessions = detector

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.processor.HandleInbound(context.Background(), inbound("my requests"))
		}()
	}
	wg.Wait()
	if detector.overlapped.Load() {
		t.Fatal("turns for the same user overlapped")
	}
}
