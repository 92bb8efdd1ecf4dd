package portalauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/portalauth/internal/audit"
)

const (
	auditEventRegisterSuccess        = "register_success"
	auditEventRegisterFailure        = "register_failure"
	auditEventRegisterDuplicate      = "register_duplicate"
	auditEventChallengeIssued        = "challenge_issued"
	auditEventChallengeFailure       = "challenge_failure"
	auditEventVerifySuccess          = "verify_success"
	auditEventVerifyFailure          = "verify_failure"
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordChangeFailure  = "password_change_failure"
	auditEventLogoutSession          = "logout_session"
	auditEventLogoutAll              = "logout_all"
	auditEventAccountProvisioned     = "account_provisioned"
	auditEventCuratorAssigned        = "curator_assigned"
	auditEventAdminActionForbidden   = "admin_action_forbidden"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventPasswordRehashFailure  = "password_rehash_failure"
	auditEventPasswordRehashComplete = "password_rehash"
)

// AuditErrorCode is the stable error label recorded on audit events.
type AuditErrorCode string

const (
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRoleMismatch       AuditErrorCode = "role_mismatch"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrAlreadyVerified    AuditErrorCode = "already_verified"
	auditErrNotDeliverable     AuditErrorCode = "identifier_not_deliverable"
	auditErrChannelMismatch    AuditErrorCode = "channel_mismatch"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrUnauthenticated    AuditErrorCode = "unauthenticated"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrNotTeacher         AuditErrorCode = "not_teacher"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrChallengeMismatch  AuditErrorCode = "code_mismatch"
	auditErrChallengeExpired   AuditErrorCode = "code_expired"
	auditErrChallengeExhausted AuditErrorCode = "attempts_exhausted"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	identifier string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.NewEvent(eventType, e.clock.Now())
	event.UserID = userID
	event.Identifier = identifier
	meta := requestMetaFrom(ctx)
	event.IP = meta.clientIP
	event.RequestID = meta.requestID
	event.Success = success
	if metadataBuilder != nil {
		event.Metadata = metadataBuilder()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, identifier string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", identifier, nil, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

// errChallengeOutcome carries a non-success challenge outcome into the
// audit record.
type errChallengeOutcome struct {
	code AuditErrorCode
}

func (e errChallengeOutcome) Error() string { return string(e.code) }

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var outcome errChallengeOutcome
	switch {
	case errors.As(err, &outcome):
		return outcome.code
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRoleMismatch):
		return auditErrRoleMismatch
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrIdentifierNotDeliverable):
		return auditErrNotDeliverable
	case errors.Is(err, ErrChannelMismatch):
		return auditErrChannelMismatch
	case errors.Is(err, ErrDuplicateIdentifier):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotTeacher):
		return auditErrNotTeacher
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrResetRateLimited):
		return auditErrRateLimited
	default:
		return auditErrInternal
	}
}
