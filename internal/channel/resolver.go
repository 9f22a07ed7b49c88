package channel

import (
	"context"
	"fmt"
	"strings"
)

// Resolver routes attachment downloads to the adapter of the platform the
// attachment came from.
type Resolver struct {
	registry *Registry
}

func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

func (r *Resolver) ResolveAttachment(ctx context.Context, att Attachment) (AttachmentPayload, error) {
	if !att.HasReference() {
		return AttachmentPayload{}, fmt.Errorf("attachment has no reference")
	}
	platform := normalizeChannelType(att.SourcePlatform)
	if strings.TrimSpace(platform.String()) == "" {
		return AttachmentPayload{}, fmt.Errorf("attachment source platform is required")
	}
	resolver, ok := r.registry.GetAttachmentResolver(platform)
	if !ok {
		return AttachmentPayload{}, fmt.Errorf("channel %s cannot resolve attachments", platform)
	}
	return resolver.ResolveAttachment(ctx, att)
}
