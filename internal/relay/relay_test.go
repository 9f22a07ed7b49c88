package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/requests"
)

type fakeSender struct {
	targets  []channel.Target
	messages []channel.Message
	err      error
}

func (f *fakeSender) Send(_ context.Context, target channel.Target, msg channel.Message) error {
	f.targets = append(f.targets, target)
	f.messages = append(f.messages, msg)
	return f.err
}

func seed(t *testing.T, store requests.Store, userID string) requests.Record {
	t.Helper()
	rec, err := store.Create(context.Background(), "Q111111AAAAAA", requests.CreateInput{
		UserID:  userID,
		Region:  "Welkom",
		Store:   "Joel",
		Type:    requests.TypeSystemBalance,
		Payload: map[string]any{"employeeNumber": "EMP9"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func TestRelayUpdatesThenNotifies(t *testing.T) {
	t.Parallel()

	store := requests.NewMemoryStore()
	seed(t, store, "twilio:whatsapp:+27821234567")
	sender := &fakeSender{}
	svc := NewService(nil, store, sender)

	rec, err := svc.Relay(context.Background(), "#Q111111AAAAAA", " Balance is R120 ", requests.StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != requests.StatusCompleted || rec.OperatorResponse != "Balance is R120" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(sender.targets) != 1 || sender.targets[0] != (channel.Target{Channel: "twilio", To: "whatsapp:+27821234567"}) {
		t.Fatalf("unexpected targets: %+v", sender.targets)
	}
	if !strings.Contains(sender.messages[0].Text, "Response: Balance is R120") {
		t.Fatalf("unexpected message: %s", sender.messages[0].Text)
	}
}

func TestRelaySendFailureKeepsUpdate(t *testing.T) {
	t.Parallel()

	store := requests.NewMemoryStore()
	seed(t, store, "telegram:77")
	svc := NewService(nil, store, &fakeSender{err: errors.New("exhausted")})

	if _, err := svc.Relay(context.Background(), "Q111111AAAAAA", "No", requests.StatusRejected); err != nil {
		t.Fatalf("send failure must not fail relay: %v", err)
	}
	rec, err := store.Get(context.Background(), "Q111111AAAAAA")
	if err != nil || rec.Status != requests.StatusRejected {
		t.Fatalf("update must persist: %+v %v", rec, err)
	}
}

func TestRelayErrors(t *testing.T) {
	t.Parallel()

	store := requests.NewMemoryStore()
	seed(t, store, "telegram:77")
	sender := &fakeSender{}
	svc := NewService(nil, store, sender)

	if _, err := svc.Relay(context.Background(), "Q999", "x", requests.StatusCompleted); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
	for _, status := range []requests.Status{requests.StatusPending, "done"} {
		if _, err := svc.Relay(context.Background(), "Q111111AAAAAA", "x", status); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus for %q, got %v", status, err)
		}
	}
	if len(sender.targets) != 0 {
		t.Fatalf("no notification expected on failed relay")
	}
}

func TestRelayRefusesClosedRequest(t *testing.T) {
	t.Parallel()

	store := requests.NewMemoryStore()
	seed(t, store, "telegram:77")
	sender := &fakeSender{}
	svc := NewService(nil, store, sender)

	if _, err := svc.Relay(context.Background(), "Q111111AAAAAA", "Balance is R120", requests.StatusCompleted); err != nil {
		t.Fatalf("first relay: %v", err)
	}
	if _, err := svc.Relay(context.Background(), "Q111111AAAAAA", "reopened", requests.StatusInProgress); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed, got %v", err)
	}
	rec, _ := store.Get(context.Background(), "Q111111AAAAAA")
	if rec.Status != requests.StatusCompleted || rec.OperatorResponse != "Balance is R120" {
		t.Fatalf("closed record changed: %+v", rec)
	}
	if len(sender.targets) != 1 {
		t.Fatalf("expected a single notification, got %d", len(sender.targets))
	}
}

func TestRelayUnaddressableOwner(t *testing.T) {
	t.Parallel()

	store := requests.NewMemoryStore()
	seed(t, store, "legacy-number")
	sender := &fakeSender{}
	svc := NewService(nil, store, sender)
	if _, err := svc.Relay(context.Background(), "Q111111AAAAAA", "ok", requests.StatusInProgress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.targets) != 0 {
		t.Fatalf("expected no send for unaddressable owner")
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	msg := UserMessage(requests.Record{ID: "Q1", Type: requests.TypeRefund, Status: requests.StatusInProgress})
	if !strings.HasPrefix(msg, "⏳") || strings.Contains(msg, "Response:") {
		t.Fatalf("unexpected message: %s", msg)
	}
}
