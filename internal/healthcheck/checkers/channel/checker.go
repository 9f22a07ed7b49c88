package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/healthcheck"
)

const (
	checkTypeChannel = "channel.credentials"
	probeTimeout     = 5 * time.Second
)

// Registry lists registered adapters and their probes.
type Registry interface {
	Types() []channel.ChannelType
	GetDescriptor(channelType channel.ChannelType) (channel.Descriptor, bool)
	GetProber(channelType channel.ChannelType) (channel.Prober, bool)
}

// Checker verifies every registered channel can reach its platform.
type Checker struct {
	logger   *slog.Logger
	registry Registry
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, registry Registry) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		registry: registry,
	}
}

// ListChecks probes each registered channel in type order.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if c.registry == nil {
		return []healthcheck.CheckResult{{
			ID:      checkTypeChannel + ".registry",
			Type:    checkTypeChannel,
			Status:  healthcheck.StatusWarn,
			Summary: "Channel registry is not available.",
		}}
	}
	types := c.registry.Types()
	if len(types) == 0 {
		return []healthcheck.CheckResult{{
			ID:      checkTypeChannel + ".none",
			Type:    checkTypeChannel,
			Status:  healthcheck.StatusWarn,
			Summary: "No channel is enabled.",
		}}
	}
	checks := make([]healthcheck.CheckResult, 0, len(types))
	for _, ct := range types {
		checks = append(checks, c.check(ctx, ct))
	}
	return checks
}

func (c *Checker) check(ctx context.Context, ct channel.ChannelType) healthcheck.CheckResult {
	name := ct.String()
	if desc, ok := c.registry.GetDescriptor(ct); ok && desc.DisplayName != "" {
		name = desc.DisplayName
	}
	item := healthcheck.CheckResult{
		ID:       checkTypeChannel + "." + ct.String(),
		Type:     checkTypeChannel,
		Metadata: map[string]any{"channel_type": ct.String()},
	}
	prober, ok := c.registry.GetProber(ct)
	if !ok {
		item.Status = healthcheck.StatusUnknown
		item.Summary = fmt.Sprintf("Channel %s cannot be probed.", name)
		return item
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := prober.Probe(ctx); err != nil {
		c.logger.Warn("channel probe failed", slog.String("channel", ct.String()), slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = fmt.Sprintf("Channel %s credentials were rejected or the platform is unreachable.", name)
		item.Detail = err.Error()
		return item
	}
	item.Status = healthcheck.StatusOK
	item.Summary = fmt.Sprintf("Channel %s is reachable.", name)
	return item
}
