package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel is the transport a code travels over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Message is one outbound one-time code.
type Message struct {
	Identifier string
	Channel    Channel
	Code       string
	Purpose    string
	ExpiresAt  time.Time
}

// Sender delivers a message to its identifier. A nil error means the
// transport accepted it. Implementations must not panic on transport
// failures.
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

var (
	// ErrNoRoute is returned by Router when no sender handles the channel.
	ErrNoRoute = errors.New("no sender for channel")
	// ErrUndeliverable is returned for identifiers that are neither an email
	// address nor a phone number.
	ErrUndeliverable = errors.New("identifier is not an email address or phone number")
)

// ChannelFor derives the channel from the identifier's shape.
func ChannelFor(identifier string) (Channel, error) {
	switch {
	case IsEmail(identifier):
		return ChannelEmail, nil
	case IsPhone(identifier):
		return ChannelSMS, nil
	default:
		return "", ErrUndeliverable
	}
}

// IsEmail is a shape check, not RFC 5322 validation.
func IsEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}

// IsPhone accepts an optional leading '+' followed by 7 to 15 digits,
// ignoring spaces, dashes and parentheses.
func IsPhone(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

// CanonicalPhone reduces a number IsPhone accepts to its optional leading
// '+' and digits, so every spelling of one number compares equal. Other
// input is returned trimmed and unchanged.
func CanonicalPhone(s string) string {
	s = strings.TrimSpace(s)
	if !IsPhone(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	if strings.HasPrefix(s, "+") {
		b.WriteByte('+')
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Router dispatches by channel.
type Router struct {
	routes map[Channel]Sender
}

func NewRouter() *Router {
	return &Router{routes: make(map[Channel]Sender, 2)}
}

// Handle registers s for ch, replacing any earlier sender.
func (r *Router) Handle(ch Channel, s Sender) *Router {
	r.routes[ch] = s
	return r
}

func (r *Router) Deliver(ctx context.Context, msg Message) error {
	s, ok := r.routes[msg.Channel]
	if !ok || s == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, msg.Channel)
	}
	return s.Deliver(ctx, msg)
}
