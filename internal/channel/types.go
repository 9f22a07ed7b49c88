// Package channel provides a unified abstraction over the messaging platforms
// users reach the intake bot through. It defines message types, adapter
// interfaces, a registry and the outbound delivery pipeline.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "twilio", "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

func normalizeChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel    ChannelType
	Message    Message
	Sender     Identity
	ReceivedAt time.Time
	Metadata   map[string]any
}

// UserKey returns the stable per-user key "<channel>:<sender id>". It doubles
// as the session key and as the reply target for the same user.
func (m InboundMessage) UserKey() string {
	return UserKey(m.Channel, m.Sender.SubjectID)
}

// UserKey builds the per-user key for a channel and sender id.
func UserKey(ct ChannelType, senderID string) string {
	return string(normalizeChannelType(ct.String())) + ":" + strings.TrimSpace(senderID)
}

// ReplyTarget returns where replies to this message are delivered.
func (m InboundMessage) ReplyTarget() Target {
	return Target{Channel: normalizeChannelType(m.Channel.String()), To: strings.TrimSpace(m.Sender.SubjectID)}
}

// OutboundMessage pairs a platform-level recipient with the message content.
type OutboundMessage struct {
	To      string  `json:"to"`
	Message Message `json:"message"`
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// AttachmentTypeFromMime infers the attachment type from a MIME type.
func AttachmentTypeFromMime(mime string) AttachmentType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mime, "audio/"):
		return AttachmentAudio
	case strings.HasPrefix(mime, "video/"):
		return AttachmentVideo
	default:
		return AttachmentFile
	}
}

// Attachment represents a binary file attached to a message.
type Attachment struct {
	Type           AttachmentType `json:"type"`
	URL            string         `json:"url,omitempty"`
	PlatformKey    string         `json:"platform_key,omitempty"`
	SourcePlatform string         `json:"source_platform,omitempty"`
	Name           string         `json:"name,omitempty"`
	Size           int64          `json:"size,omitempty"`
	Mime           string         `json:"mime,omitempty"`
}

// Reference returns the strongest available attachment reference.
// URL is preferred, then platform key.
func (a Attachment) Reference() string {
	if strings.TrimSpace(a.URL) != "" {
		return strings.TrimSpace(a.URL)
	}
	return strings.TrimSpace(a.PlatformKey)
}

// HasReference reports whether URL or platform key is available.
func (a Attachment) HasReference() bool {
	return a.Reference() != ""
}

// Message is the unified message structure used across all channels.
type Message struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

// PlainText returns the trimmed text body.
func (m Message) PlainText() string {
	return strings.TrimSpace(m.Text)
}
