package portalauth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
)

// IssueChallenge sends a registration code to identifier, the email or
// phone of a pending account. An empty channel is derived from the
// identifier; a non-empty role must match the account's role.
//
// When delivery fails the challenge is still stored and the error wraps
// ErrDeliveryFailed. Calling IssueChallenge again replaces it with a fresh
// code.
func (e *Engine) IssueChallenge(ctx context.Context, identifier string, channel delivery.Channel, role authz.Role) (Receipt, error) {
	if err := e.ready(); err != nil {
		return Receipt{}, err
	}
	id := normalizeIdentifier(identifier)

	acc, ch, err := e.resolveDeliverable(ctx, id, channel)
	if err == nil {
		switch {
		case acc.Verified:
			err = ErrAlreadyVerified
		case role != "" && role != acc.Role:
			err = ErrRoleMismatch
		}
	}
	if err != nil {
		e.emitAudit(ctx, auditEventChallengeFailure, false, "", id, err, purposeMetadata(challenge.PurposeVerify))
		return Receipt{}, err
	}

	return e.issue(ctx, acc, id, ch, challenge.PurposeVerify)
}

// resolveDeliverable checks that id can receive a code over channel and
// belongs to an account as its email or phone.
func (e *Engine) resolveDeliverable(ctx context.Context, id string, channel delivery.Channel) (UserAccount, delivery.Channel, error) {
	if id == "" {
		return UserAccount{}, "", ErrInvalidRequest
	}
	derived, err := delivery.ChannelFor(id)
	if err != nil {
		return UserAccount{}, "", ErrIdentifierNotDeliverable
	}
	if channel != "" && channel != derived {
		return UserAccount{}, "", ErrChannelMismatch
	}

	acc, err := e.directory.FindByIdentifier(ctx, id)
	if err != nil {
		return UserAccount{}, "", lookupErr(err)
	}
	if acc.Email != id && acc.Phone != id {
		return UserAccount{}, "", ErrIdentifierNotDeliverable
	}
	return acc, derived, nil
}

func (e *Engine) issue(ctx context.Context, acc UserAccount, id string, ch delivery.Channel, purpose challenge.Purpose) (Receipt, error) {
	issued, err := e.challenges.Issue(ctx, challenge.IssueRequest{
		Identifier: id,
		Channel:    ch,
		Role:       acc.Role,
		Purpose:    purpose,
	})
	userID := formatUserID(acc.ID)
	if err != nil && !errors.Is(err, challenge.ErrDeliveryFailed) {
		if errors.Is(err, challenge.ErrInvalidRequest) {
			err = ErrInvalidRequest
		} else {
			err = backendErr(err)
		}
		e.emitAudit(ctx, auditEventChallengeFailure, false, userID, id, err, purposeMetadata(purpose))
		return Receipt{}, err
	}

	e.metricInc(MetricChallengeIssued)
	receipt := Receipt{
		Identifier: id,
		Channel:    issued.Channel,
		ExpiresAt:  issued.ExpiresAt,
		Remaining:  issued.Remaining,
	}
	if err != nil {
		e.metricInc(MetricChallengeDeliveryFailed)
		e.logger.Warn("code delivery failed", "user_id", userID, "channel", string(issued.Channel), "err", err)
		e.emitAudit(ctx, auditEventChallengeFailure, false, userID, id, err, purposeMetadata(purpose))
		return receipt, err
	}

	e.emitAudit(ctx, auditEventChallengeIssued, true, userID, id, nil, purposeMetadata(purpose))
	return receipt, nil
}

// Verify checks a registration code. On Success the account is marked
// verified and a session is started; the token is in the result. Other
// outcomes are reported in the result with a nil error.
func (e *Engine) Verify(ctx context.Context, identifier, code string) (VerifyResult, error) {
	if err := e.ready(); err != nil {
		return VerifyResult{}, err
	}
	id := normalizeIdentifier(identifier)

	res, err := e.challenges.Validate(ctx, id, code, challenge.PurposeVerify)
	if err != nil {
		return VerifyResult{}, backendErr(err)
	}
	e.countOutcome(res.Outcome)

	out := VerifyResult{Outcome: res.Outcome, Remaining: res.Remaining}
	if res.Outcome != challenge.Success {
		e.emitAudit(ctx, auditEventVerifyFailure, false, "", id, outcomeErr(res.Outcome), func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(res.Remaining)}
		})
		return out, nil
	}

	acc, err := e.directory.FindByIdentifier(ctx, id)
	if err != nil {
		return VerifyResult{}, lookupErr(err)
	}
	if err := e.directory.SetVerified(ctx, acc.ID); err != nil {
		return VerifyResult{}, lookupErr(err)
	}
	acc.Verified = true

	token, err := e.createSession(ctx, acc)
	if err != nil {
		return VerifyResult{}, err
	}

	e.emitAudit(ctx, auditEventVerifySuccess, true, formatUserID(acc.ID), id, nil, nil)
	out.Token = token
	out.Account = acc
	return out, nil
}

func (e *Engine) countOutcome(o challenge.Outcome) {
	switch o {
	case challenge.Success:
		e.metricInc(MetricChallengeSuccess)
	case challenge.CodeMismatch:
		e.metricInc(MetricChallengeMismatch)
	case challenge.Expired:
		e.metricInc(MetricChallengeExpired)
	case challenge.AttemptsExhausted:
		e.metricInc(MetricChallengeExhausted)
	default:
		e.metricInc(MetricChallengeNotFound)
	}
}

func outcomeErr(o challenge.Outcome) error {
	switch o {
	case challenge.Success:
		return nil
	case challenge.CodeMismatch:
		return errChallengeOutcome{code: auditErrChallengeMismatch}
	case challenge.Expired:
		return errChallengeOutcome{code: auditErrChallengeExpired}
	case challenge.AttemptsExhausted:
		return errChallengeOutcome{code: auditErrChallengeExhausted}
	default:
		return errChallengeOutcome{code: auditErrChallengeNotFound}
	}
}

func purposeMetadata(p challenge.Purpose) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"purpose": string(p)}
	}
}
