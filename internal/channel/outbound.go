package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/intake/internal/retry"
)

// OutboundPolicy configures how outbound messages are chunked.
type OutboundPolicy struct {
	TextChunkLimit int `json:"text_chunk_limit,omitempty"`
	// MediaPerMessage caps attachments carried by one platform message.
	MediaPerMessage int `json:"media_per_message,omitempty"`
}

// NormalizeOutboundPolicy fills zero-value fields with sensible defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = 2000
	}
	if policy.MediaPerMessage <= 0 {
		policy.MediaPerMessage = 1
	}
	return policy
}

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	if limit <= 0 {
		return []string{line}
	}
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

// Outbound delivers messages to users through registered adapters. Every
// platform message is retried independently under the dispatcher's policy.
type Outbound struct {
	registry   *Registry
	dispatcher *retry.Dispatcher
	logger     *slog.Logger
}

// NewOutbound creates the delivery pipeline. Transient failures are detected
// with IsRetryable.
func NewOutbound(log *slog.Logger, registry *Registry, policy retry.Policy) *Outbound {
	if log == nil {
		log = slog.Default()
	}
	return &Outbound{
		registry:   registry,
		dispatcher: retry.New(log, policy, IsRetryable),
		logger:     log.With(slog.String("service", "outbound")),
	}
}

// Send splits msg per the channel's policy and delivers each part. It stops
// at the first part that cannot be delivered.
func (o *Outbound) Send(ctx context.Context, target Target, msg Message) error {
	if strings.TrimSpace(target.To) == "" {
		return fmt.Errorf("target is required")
	}
	if msg.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	sender, ok := o.registry.GetSender(target.Channel)
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", target.Channel)
	}
	policy, _ := o.registry.GetOutboundPolicy(target.Channel)
	parts := buildOutboundMessages(target.To, msg, NormalizeOutboundPolicy(policy))
	for i, part := range parts {
		err := o.dispatcher.Do(ctx, "send "+target.Channel.String(), func(ctx context.Context) error {
			return sender.Send(ctx, part)
		})
		if err != nil {
			o.logger.Error("outbound delivery failed",
				slog.String("target", target.String()),
				slog.Int("part", i+1),
				slog.Int("parts", len(parts)),
				slog.Any("error", err))
			return err
		}
	}
	return nil
}

// SendText is a convenience wrapper for plain text replies.
func (o *Outbound) SendText(ctx context.Context, target Target, text string) error {
	return o.Send(ctx, target, Message{Text: text})
}

// buildOutboundMessages splits text into chunks and spreads attachments over
// the messages, media first.
func buildOutboundMessages(to string, msg Message, policy OutboundPolicy) []OutboundMessage {
	chunks := ChunkText(msg.Text, policy.TextChunkLimit)
	out := make([]OutboundMessage, 0, len(chunks)+len(msg.Attachments))
	attachments := msg.Attachments
	for len(attachments) > 0 {
		n := min(policy.MediaPerMessage, len(attachments))
		part := OutboundMessage{To: to, Message: Message{Attachments: attachments[:n]}}
		attachments = attachments[n:]
		if len(attachments) == 0 && len(chunks) > 0 {
			part.Message.Text = chunks[0]
			chunks = chunks[1:]
		}
		out = append(out, part)
	}
	for _, chunk := range chunks {
		out = append(out, OutboundMessage{To: to, Message: Message{Text: chunk}})
	}
	return out
}
