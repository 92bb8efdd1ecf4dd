package portalauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/directory"
	"github.com/MrEthical07/portalauth/internal/rate"
)

// Login authenticates identifier (username, email or phone) with password
// and starts a session. Checks run in this order: rate limit, account
// existence, password, expected role, verification. The role and
// verification state are only revealed to a caller holding the password.
func (e *Engine) Login(ctx context.Context, identifier, password string, expectedRole authz.Role) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	id := normalizeIdentifier(identifier)
	ip := clientIPFromContext(ctx)

	if err := e.checkLoginRate(ctx, id, ip); err != nil {
		return LoginResult{}, err
	}

	acc, err := e.directory.FindByIdentifier(ctx, id)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			return LoginResult{}, backendErr(err)
		}
		e.hasher.Verify(password, e.dummyHash)
		e.loginFailed(ctx, id, ip, "", ErrUserNotFound)
		return LoginResult{}, ErrUserNotFound
	}
	userID := formatUserID(acc.ID)

	if !e.hasher.Verify(password, acc.PasswordHash) {
		e.loginFailed(ctx, id, ip, userID, ErrInvalidCredentials)
		return LoginResult{}, ErrInvalidCredentials
	}
	if expectedRole != "" && expectedRole != acc.Role {
		e.loginRejected(ctx, id, userID, ErrRoleMismatch)
		return LoginResult{}, ErrRoleMismatch
	}
	if !acc.Verified {
		e.loginRejected(ctx, id, userID, ErrAccountUnverified)
		return LoginResult{}, ErrAccountUnverified
	}

	e.resetLoginRate(ctx, id)
	e.maybeRehash(ctx, &acc, password)

	token, err := e.createSession(ctx, acc)
	if err != nil {
		return LoginResult{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, id, nil, func() map[string]string {
		return map[string]string{"role": string(acc.Role)}
	})
	return LoginResult{Token: token, Account: acc}, nil
}

func (e *Engine) checkLoginRate(ctx context.Context, id, ip string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckLogin(ctx, id, ip)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login", id)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", id, ErrLoginRateLimited, nil)
		return ErrLoginRateLimited
	default:
		return backendErr(err)
	}
}

// loginFailed records a failure that counts towards the rate limit.
func (e *Engine) loginFailed(ctx context.Context, id, ip, userID string, cause error) {
	e.metricInc(MetricLoginFailure)
	if e.limiter != nil {
		if err := e.limiter.IncrementLogin(ctx, id, ip); err != nil {
			e.logger.Warn("login failure counter not updated", "err", err)
		}
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, id, cause, nil)
}

// loginRejected records a failure by a caller who knew the password.
func (e *Engine) loginRejected(ctx context.Context, id, userID string, cause error) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, id, cause, nil)
}

func (e *Engine) resetLoginRate(ctx context.Context, id string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.ResetLogin(ctx, id); err != nil {
		e.logger.Warn("login failure counter not reset", "err", err)
	}
}

// maybeRehash upgrades the stored digest to the primary hasher. Failures
// are logged and never fail the login.
func (e *Engine) maybeRehash(ctx context.Context, acc *UserAccount, password string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(acc.PasswordHash) {
		return
	}
	userID := formatUserID(acc.ID)

	hash, err := e.hasher.Hash(password)
	if err == nil {
		err = e.directory.UpdatePasswordHash(ctx, acc.ID, hash)
	}
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", userID, "err", err)
		e.emitAudit(ctx, auditEventPasswordRehashFailure, false, userID, "", backendErr(err), nil)
		return
	}
	acc.PasswordHash = hash
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, auditEventPasswordRehashComplete, true, userID, "", nil, nil)
}
