package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Target addresses a recipient on a specific channel.
type Target struct {
	Channel ChannelType
	To      string
}

// ParseTarget splits "<channel>:<recipient>" on the first colon, e.g.
// "twilio:whatsapp:+27821234567" or "telegram:123456".
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	ct, to, ok := strings.Cut(raw, ":")
	if !ok || strings.TrimSpace(ct) == "" || strings.TrimSpace(to) == "" {
		return Target{}, fmt.Errorf("invalid channel target: %q", raw)
	}
	return Target{Channel: normalizeChannelType(ct), To: strings.TrimSpace(to)}, nil
}

func (t Target) String() string {
	return t.Channel.String() + ":" + t.To
}

// SendError is a platform delivery failure with its transient classification.
type SendError struct {
	Channel    ChannelType
	StatusCode int
	Code       int
	Message    string
	Retryable  bool
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s send failed (status %d, code %d): %s", e.Channel, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s send failed (status %d): %s", e.Channel, e.StatusCode, e.Message)
}

// IsRetryable classifies delivery failures. Platform errors carry their own
// classification; network failures and timeouts are transient; cancellation is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(status int) bool {
	return status == 429 || status >= 500
}
