package channelchecker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/healthcheck"
)

type fakeAdapter struct {
	ct  channel.ChannelType
	err error
}

func (f *fakeAdapter) Type() channel.ChannelType { return f.ct }

func (f *fakeAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: f.ct, DisplayName: string(f.ct)}
}

func (f *fakeAdapter) Probe(context.Context) error { return f.err }

type silentAdapter struct{}

func (silentAdapter) Type() channel.ChannelType      { return "silent" }
func (silentAdapter) Descriptor() channel.Descriptor { return channel.Descriptor{Type: "silent"} }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	registry := channel.NewRegistry()
	registry.MustRegister(&fakeAdapter{ct: "twilio", err: errors.New("401 unauthorized")})
	registry.MustRegister(&fakeAdapter{ct: "telegram"})
	registry.MustRegister(silentAdapter{})

	items := NewChecker(newTestLogger(), registry).ListChecks(context.Background())
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	want := map[string]string{
		"channel.credentials.silent":   healthcheck.StatusUnknown,
		"channel.credentials.telegram": healthcheck.StatusOK,
		"channel.credentials.twilio":   healthcheck.StatusError,
	}
	for _, item := range items {
		if want[item.ID] != item.Status {
			t.Fatalf("unexpected status for %s: %s", item.ID, item.Status)
		}
	}
	if items[2].Detail != "401 unauthorized" {
		t.Fatalf("expected probe error detail, got %q", items[2].Detail)
	}
}

func TestCheckerEmptyRegistry(t *testing.T) {
	t.Parallel()

	items := NewChecker(newTestLogger(), channel.NewRegistry()).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != healthcheck.StatusWarn {
		t.Fatalf("expected single warning, got %+v", items)
	}
}
