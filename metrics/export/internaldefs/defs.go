package internaldefs

import (
	portalauth "github.com/MrEthical07/portalauth"
)

// Label is the single dimension a family member is distinguished by.
// The zero Label marks an unlabeled counter.
type Label struct {
	Key   string
	Value string
}

// CounterDef binds an engine counter to a family member.
type CounterDef struct {
	ID    portalauth.MetricID
	Label Label
}

// Family is one exported counter name. Members share Name and label key.
type Family struct {
	Name    string
	Help    string
	Members []CounterDef
}

// HistogramDef binds a histogram id to its exported name.
type HistogramDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "portalauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped on a full buffer or an expired shutdown drain."

func member(id portalauth.MetricID, key, value string) CounterDef {
	return CounterDef{ID: id, Label: Label{Key: key, Value: value}}
}

func plain(name, help string, id portalauth.MetricID) Family {
	return Family{Name: name, Help: help, Members: []CounterDef{{ID: id}}}
}

// Families lists every engine counter in export order.
var Families = []Family{
	{
		Name: "portalauth_login_total",
		Help: "Login attempts by result.",
		Members: []CounterDef{
			member(portalauth.MetricLoginSuccess, "result", "success"),
			member(portalauth.MetricLoginFailure, "result", "failure"),
			member(portalauth.MetricLoginRateLimited, "result", "rate_limited"),
		},
	},
	{
		Name: "portalauth_register_total",
		Help: "Self-registrations by result.",
		Members: []CounterDef{
			member(portalauth.MetricRegisterSuccess, "result", "success"),
			member(portalauth.MetricRegisterDuplicate, "result", "duplicate"),
			member(portalauth.MetricRegisterRejected, "result", "rejected"),
		},
	},
	plain("portalauth_challenge_issued_total", "Stored verification challenges.", portalauth.MetricChallengeIssued),
	plain("portalauth_challenge_delivery_failed_total", "Challenges whose code could not be delivered.", portalauth.MetricChallengeDeliveryFailed),
	{
		// Values follow challenge.Outcome.String.
		Name: "portalauth_challenge_attempts_total",
		Help: "Code validation attempts by outcome.",
		Members: []CounterDef{
			member(portalauth.MetricChallengeSuccess, "outcome", "success"),
			member(portalauth.MetricChallengeMismatch, "outcome", "code_mismatch"),
			member(portalauth.MetricChallengeExpired, "outcome", "expired"),
			member(portalauth.MetricChallengeExhausted, "outcome", "attempts_exhausted"),
			member(portalauth.MetricChallengeNotFound, "outcome", "not_found"),
		},
	},
	plain("portalauth_session_created_total", "Created sessions.", portalauth.MetricSessionCreated),
	plain("portalauth_session_invalidated_total", "Sessions removed by logout, reset or password change.", portalauth.MetricSessionInvalidated),
	plain("portalauth_authenticate_failure_total", "Tokens that did not resolve to a live session.", portalauth.MetricAuthenticateFailure),
	{
		Name: "portalauth_logout_total",
		Help: "Logouts by scope.",
		Members: []CounterDef{
			member(portalauth.MetricLogout, "scope", "session"),
			member(portalauth.MetricLogoutAll, "scope", "all"),
		},
	},
	{
		Name: "portalauth_password_reset_request_total",
		Help: "Password reset requests by result.",
		Members: []CounterDef{
			member(portalauth.MetricPasswordResetRequest, "result", "accepted"),
			member(portalauth.MetricPasswordResetRateLimited, "result", "rate_limited"),
		},
	},
	{
		Name: "portalauth_password_reset_confirm_total",
		Help: "Password reset confirmations by result.",
		Members: []CounterDef{
			member(portalauth.MetricPasswordResetConfirmSuccess, "result", "success"),
			member(portalauth.MetricPasswordResetConfirmFailure, "result", "failure"),
		},
	},
	{
		Name: "portalauth_password_change_total",
		Help: "Password changes by result.",
		Members: []CounterDef{
			member(portalauth.MetricPasswordChangeSuccess, "result", "success"),
			member(portalauth.MetricPasswordChangeInvalidOld, "result", "invalid_old"),
			member(portalauth.MetricPasswordChangeReuseRejected, "result", "reuse_rejected"),
		},
	},
	plain("portalauth_password_rehash_total", "Digests upgraded to the primary hasher at login.", portalauth.MetricPasswordRehash),
	{
		Name: "portalauth_authorize_decisions_total",
		Help: "Group authorization checks by decision.",
		Members: []CounterDef{
			member(portalauth.MetricAuthorizeAllow, "decision", "allow"),
			member(portalauth.MetricAuthorizeDeny, "decision", "deny"),
		},
	},
	plain("portalauth_account_provisioned_total", "Accounts created by an administrator.", portalauth.MetricAccountProvisioned),
	plain("portalauth_curator_assigned_total", "Curator group assignments.", portalauth.MetricCuratorAssigned),
	plain("portalauth_rate_limit_hit_total", "Rate-limit checks that denied requests.", portalauth.MetricRateLimitHit),
}

// HistogramDefs lists every engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: portalauth.MetricAuthenticateLatency, Name: "portalauth_authenticate_latency_seconds", Help: "Session authentication latency."},
}

// HistogramBounds are the upper bounds of the eight buckets, in seconds.
var HistogramBounds = []string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.025",
	"0.1",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
