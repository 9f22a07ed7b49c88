// Package digest sends a periodic summary of request counts to the team.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/intake/internal/config"
	"github.com/memohai/intake/internal/requests"
)

// StatsSource aggregates request counts.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (requests.Stats, error)
}

// Broadcaster notifies every team recipient.
type Broadcaster interface {
	Broadcast(ctx context.Context, subject, body string) int
}

// Service runs the digest on a cron schedule.
type Service struct {
	logger   *slog.Logger
	cron     *cron.Cron
	schedule string
	loc      *time.Location
	stats    StatsSource
	notifier Broadcaster
	now      func() time.Time
}

// NewService validates the schedule and timezone. The schedule uses the
// standard five-field cron syntax.
func NewService(log *slog.Logger, cfg config.DigestConfig, stats StatsSource, notifier Broadcaster) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "digest"))
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		schedule = config.DefaultDigestSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", schedule, err)
	}
	return &Service{
		logger:   log,
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log: log})),
		schedule: schedule,
		loc:      loc,
		stats:    stats,
		notifier: notifier,
		now:      time.Now,
	}, nil
}

// Start registers the job and starts the scheduler.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.Run(ctx); err != nil {
			s.logger.Error("digest run failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}
	s.cron.Start()
	s.logger.Info("digest scheduled", slog.String("schedule", s.schedule), slog.String("timezone", s.loc.String()))
	return nil
}

// Stop stops the scheduler and waits for a running job up to ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run sends one digest now.
func (s *Service) Run(ctx context.Context) error {
	now := s.now().In(s.loc)
	stats, err := s.stats.Stats(ctx, now)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	subject, body := Render(stats, now)
	delivered := s.notifier.Broadcast(ctx, subject, body)
	s.logger.Info("digest sent", slog.Int("delivered", delivered), slog.Int("today", stats.Today))
	return nil
}

// Render formats the digest message.
func Render(stats requests.Stats, now time.Time) (string, string) {
	subject := "Daily request digest " + now.Format("2006-01-02")
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Daily digest for %s\n\n", now.Format("Mon 02 Jan 2006"))
	fmt.Fprintf(&b, "New today: %d\n", stats.Today)
	fmt.Fprintf(&b, "⏳ Pending: %d\n", stats.Pending)
	fmt.Fprintf(&b, "🔄 In progress: %d\n", stats.InProgress)
	fmt.Fprintf(&b, "✅ Completed: %d\n", stats.Completed)
	fmt.Fprintf(&b, "❌ Rejected: %d\n", stats.Rejected)
	fmt.Fprintf(&b, "Total: %d\n", stats.Total)
	if len(stats.ByStore) > 0 {
		b.WriteString("\nBy store:\n")
		for _, store := range slices.Sorted(maps.Keys(stats.ByStore)) {
			fmt.Fprintf(&b, "• %s: %d\n", store, stats.ByStore[store])
		}
	}
	return subject, strings.TrimRight(b.String(), "\n")
}

// cronLogger routes scheduler logs through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
