package portalauth

import (
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/directory"
	internalaudit "github.com/MrEthical07/portalauth/internal/audit"
)

// UserAccount is the directory's account record.
type UserAccount = directory.Account

// UserDirectory is the account store the engine authenticates against.
type UserDirectory = directory.Directory

type (
	Actor    = authz.Actor
	Role     = authz.Role
	Decision = authz.Decision
)

// Clock supplies the current time. Tests inject a fake one.
type Clock interface {
	Now() time.Time
}

// Profile holds the role-specific account fields. Group and Course apply to
// students and class representatives, Department and Position to staff.
// CuratorGroup is only accepted from ProvisionAccount.
type Profile struct {
	Email        string
	Phone        string
	Group        string
	Course       int
	Department   string
	Position     string
	CuratorGroup string
}

// RegisterRequest is the input for Register and ProvisionAccount.
type RegisterRequest struct {
	Username    string
	Password    string
	DisplayName string
	Role        authz.Role
	Profile     Profile
}

// Receipt describes an issued challenge without revealing its code.
type Receipt struct {
	Identifier string
	Channel    delivery.Channel
	ExpiresAt  time.Time
	Remaining  int
}

// VerifyResult is returned by Verify. Token and Account are set only when
// Outcome is challenge.Success.
type VerifyResult struct {
	Outcome   challenge.Outcome
	Remaining int
	Token     string
	Account   UserAccount
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token   string
	Account UserAccount
}

// AuditEvent is a single audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel; see Events.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a slog.Logger.
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
