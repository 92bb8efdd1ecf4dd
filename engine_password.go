package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/internal/rate"
)

// RequestReset sends a password reset code to identifier. Unknown
// identifiers get the same nil answer as known ones. Identifiers that
// cannot receive codes are rejected on their shape alone.
func (e *Engine) RequestReset(ctx context.Context, identifier string, channel delivery.Channel) error {
	if err := e.ready(); err != nil {
		return err
	}
	id := normalizeIdentifier(identifier)
	if id == "" {
		return ErrInvalidRequest
	}
	derived, err := delivery.ChannelFor(id)
	if err != nil {
		return ErrIdentifierNotDeliverable
	}
	if channel != "" && channel != derived {
		return ErrChannelMismatch
	}

	if e.limiter != nil {
		err := e.limiter.AllowRequest(ctx, "reset", id, clientIPFromContext(ctx))
		switch {
		case errors.Is(err, rate.ErrRateLimited):
			e.metricInc(MetricPasswordResetRateLimited)
			e.emitRateLimit(ctx, "reset", id)
			return ErrResetRateLimited
		case err != nil:
			return backendErr(err)
		}
	}
	e.metricInc(MetricPasswordResetRequest)

	acc, _, err := e.resolveDeliverable(ctx, id, derived)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrIdentifierNotDeliverable) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", id, ErrUserNotFound, nil)
			return nil
		}
		return err
	}

	_, err = e.issue(ctx, acc, id, derived, challenge.PurposeReset)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, formatUserID(acc.ID), id, nil, nil)
	return nil
}

// CompleteReset consumes a reset code and sets newPassword. The password
// policy is checked first so a weak password costs no attempt. On success
// every session of the user is ended unless
// Session.InvalidateOnPasswordReset is off.
func (e *Engine) CompleteReset(ctx context.Context, identifier, code, newPassword string) (challenge.Result, error) {
	if err := e.ready(); err != nil {
		return challenge.Result{}, err
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return challenge.Result{}, err
	}
	id := normalizeIdentifier(identifier)

	res, err := e.challenges.Validate(ctx, id, code, challenge.PurposeReset)
	if err != nil {
		return challenge.Result{}, backendErr(err)
	}
	e.countOutcome(res.Outcome)
	if res.Outcome != challenge.Success {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", id, outcomeErr(res.Outcome), func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(res.Remaining)}
		})
		return res, nil
	}

	acc, err := e.directory.FindByIdentifier(ctx, id)
	if err != nil {
		return challenge.Result{}, lookupErr(err)
	}
	if err := e.setPassword(ctx, acc.ID, newPassword); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return challenge.Result{}, err
	}
	if e.config.Session.InvalidateOnPasswordReset {
		if err := e.invalidateUserSessions(ctx, acc.ID); err != nil {
			return challenge.Result{}, err
		}
	}
	e.resetLoginRate(ctx, id)

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, formatUserID(acc.ID), id, nil, nil)
	return res, nil
}

// ChangePassword replaces the password of userID after checking the
// current one, then ends every session of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	uid := formatUserID(userID)

	acc, err := e.directory.FindByID(ctx, userID)
	if err != nil {
		return lookupErr(err)
	}
	if !e.hasher.Verify(oldPassword, acc.PasswordHash) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, uid, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, uid, "", err, nil)
		return err
	}
	if oldPassword == newPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, uid, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	if err := e.setPassword(ctx, userID, newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, uid, "", err, nil)
		return err
	}
	if err := e.invalidateUserSessions(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, uid, "", nil, nil)
	return nil
}

func (e *Engine) setPassword(ctx context.Context, userID int64, pw string) error {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := e.directory.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return lookupErr(err)
	}
	return nil
}
