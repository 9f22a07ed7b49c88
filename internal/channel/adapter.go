package channel

import (
	"context"
	"io"
)

// InboundHandler consumes messages decoded by adapter webhooks.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// AttachmentPayload contains resolved attachment bytes and optional metadata.
// Caller must close Reader.
type AttachmentPayload struct {
	Reader io.ReadCloser
	Mime   string
	Name   string
	Size   int64
}

// AttachmentResolver downloads attachment references (URL or platform key)
// into readable bytes.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, attachment Attachment) (AttachmentPayload, error)
}

// Adapter is the base interface every channel adapter must implement.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Descriptor holds read-only metadata for a registered channel type.
type Descriptor struct {
	Type           ChannelType
	DisplayName    string
	OutboundPolicy OutboundPolicy
}

// Sender is an adapter capable of sending outbound messages. Adapters own
// their credentials; msg.To is the platform-level recipient.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Prober is an adapter that can verify its credentials against the platform.
type Prober interface {
	Probe(ctx context.Context) error
}
