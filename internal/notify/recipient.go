package notify

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/memohai/intake/internal/channel"
)

const emailPrefix = "email:"

// Recipient is a team member reachable either on a messaging channel or by e-mail.
type Recipient struct {
	Email  string
	Target channel.Target
}

// IsEmail reports whether the recipient is addressed by e-mail.
func (r Recipient) IsEmail() bool {
	return r.Email != ""
}

func (r Recipient) String() string {
	if r.IsEmail() {
		return emailPrefix + r.Email
	}
	return r.Target.String()
}

// ParseRecipient accepts "email:<address>" or a channel target such as
// "twilio:whatsapp:+27821234567".
func ParseRecipient(raw string) (Recipient, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > len(emailPrefix) && strings.EqualFold(raw[:len(emailPrefix)], emailPrefix) {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw[len(emailPrefix):]))
		if err != nil {
			return Recipient{}, fmt.Errorf("invalid e-mail recipient %q: %w", raw, err)
		}
		return Recipient{Email: addr.Address}, nil
	}
	target, err := channel.ParseTarget(raw)
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{Target: target}, nil
}

// ParseRecipients parses every configured recipient, skipping blanks.
func ParseRecipients(raw []string) ([]Recipient, error) {
	out := make([]Recipient, 0, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(item) == "" {
			continue
		}
		r, err := ParseRecipient(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
