package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/intake/internal/config"
	"github.com/memohai/intake/internal/requests"
)

type fakeBroadcaster struct {
	subject string
	body    string
	calls   int
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, subject, body string) int {
	f.calls++
	f.subject, f.body = subject, body
	return 1
}

type statsFunc func(ctx context.Context, now time.Time) (requests.Stats, error)

func (f statsFunc) Stats(ctx context.Context, now time.Time) (requests.Stats, error) {
	return f(ctx, now)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, config.DigestConfig{Schedule: "not cron"}, nil, nil)
	assert.Error(t, err)
	_, err = NewService(nil, config.DigestConfig{Timezone: "Mars/Olympus"}, nil, nil)
	assert.Error(t, err)

	svc, err := NewService(nil, config.DigestConfig{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDigestSchedule, svc.schedule)
	assert.Equal(t, time.UTC, svc.loc)
}

func TestRunBroadcastsStats(t *testing.T) {
	t.Parallel()

	store := requests.NewMemoryStore()
	_, err := store.Create(context.Background(), "Q1", requests.CreateInput{
		UserID: "telegram:1", Region: "Central", Store: "Kus", Type: requests.TypeCallback,
		Payload: map[string]any{"emergencyNature": "till"},
	})
	require.NoError(t, err)

	notifier := &fakeBroadcaster{}
	svc, err := NewService(nil, config.DigestConfig{Timezone: "UTC"}, store, notifier)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now() }

	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, 1, notifier.calls)
	assert.True(t, strings.HasPrefix(notifier.subject, "Daily request digest "))
	assert.Contains(t, notifier.body, "⏳ Pending: 1")
	assert.Contains(t, notifier.body, "• Kus: 1")
}

func TestRunStatsFailure(t *testing.T) {
	t.Parallel()

	notifier := &fakeBroadcaster{}
	failing := statsFunc(func(context.Context, time.Time) (requests.Stats, error) {
		return requests.Stats{}, errors.New("db down")
	})
	svc, err := NewService(nil, config.DigestConfig{}, failing, notifier)
	require.NoError(t, err)
	assert.Error(t, svc.Run(context.Background()))
	assert.Zero(t, notifier.calls)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	svc, err := NewService(nil, config.DigestConfig{Schedule: "0 6 * * *"}, nil, &fakeBroadcaster{})
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.Stop(ctx))
}

func TestRenderSortsStores(t *testing.T) {
	t.Parallel()

	_, body := Render(requests.Stats{Total: 3, ByStore: map[string]int{"Union": 1, "Eland": 2}}, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC))
	assert.Less(t, strings.Index(body, "Eland"), strings.Index(body, "Union"))
	assert.Contains(t, body, "Mon 02 Mar 2026")
}
