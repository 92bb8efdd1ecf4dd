package portalauth

import (
	"context"
	"testing"

	"github.com/MrEthical07/portalauth/authz"
)

func drainEvents(sink *ChannelSink) []AuditEvent {
	var out []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAuditTrail(t *testing.T) {
	sink := NewChannelSink(256)
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}, func(b *Builder) { b.WithAuditSink(sink) })

	acc, _ := env.registerVerified(t, studentRequest("alice", "a@x.com", "IVT-21"))
	ctx := WithRequestID(WithClientIP(context.Background(), "10.0.0.7"), "req-42")
	if _, err := env.engine.Login(ctx, "alice", "wrong-pw", authz.RoleStudent); err == nil {
		t.Fatal("expected login failure")
	}
	env.engine.Close()

	events := drainEvents(sink)
	wantTypes := []string{
		auditEventRegisterSuccess,
		auditEventChallengeIssued,
		auditEventVerifySuccess,
		auditEventLoginFailure,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantTypes), len(events), events)
	}
	for i, want := range wantTypes {
		if events[i].EventType != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].EventType)
		}
		if events[i].ID == "" || events[i].Timestamp.IsZero() {
			t.Fatalf("event %d missing id or timestamp", i)
		}
	}

	reg := events[0]
	if !reg.Success || reg.UserID != formatUserID(acc.ID) || reg.Metadata["role"] != "student" {
		t.Fatalf("unexpected register event: %+v", reg)
	}
	if events[1].Metadata["purpose"] != "verify" {
		t.Fatalf("challenge event missing purpose: %+v", events[1])
	}

	fail := events[3]
	if fail.Success || fail.IP != "10.0.0.7" || fail.RequestID != "req-42" || fail.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected login failure event: %+v", fail)
	}
	if fail.Identifier != "alice" {
		t.Fatalf("expected identifier alice, got %q", fail.Identifier)
	}
}

func TestAuditVerifyFailureCodes(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}, func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.engine.IssueChallenge(ctx, "a@x.com", "", ""); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	for i := 0; i < 3; i++ {
		env.engine.Verify(ctx, "a@x.com", "000000")
	}
	env.engine.Close()

	var codes []string
	for _, ev := range drainEvents(sink) {
		if ev.EventType == auditEventVerifyFailure {
			codes = append(codes, ev.Error)
		}
	}
	want := []string{
		string(auditErrChallengeMismatch),
		string(auditErrChallengeMismatch),
		string(auditErrChallengeExhausted),
	}
	if len(codes) != len(want) {
		t.Fatalf("expected %v, got %v", want, codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrUserNotFound, auditErrUserNotFound},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrDuplicateIdentifier, auditErrDuplicate},
		{ErrDeliveryFailed, auditErrDeliveryFailed},
		{backendErr(context.DeadlineExceeded), auditErrUnavailable},
		{errChallengeOutcome{code: auditErrChallengeExpired}, auditErrChallengeExpired},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelSink(8)
	env := newTestEnv(t, nil, func(b *Builder) { b.WithAuditSink(sink) })

	env.registerVerified(t, studentRequest("alice", "a@x.com", "IVT-21"))
	env.engine.Close()

	if n := len(drainEvents(sink)); n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}
