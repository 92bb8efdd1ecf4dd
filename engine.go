package portalauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/directory"
	"github.com/MrEthical07/portalauth/internal/audit"
	"github.com/MrEthical07/portalauth/internal/clock"
	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/session"
)

// Engine is the identity façade of the portal: registration, verification,
// login, password reset, session checks and authorization. It is safe for
// concurrent use.
type Engine struct {
	config    Config
	logger    *slog.Logger
	clock     clock.Clock
	directory directory.Directory
	hasher    password.Hasher
	dummyHash string

	challenges      *challenge.Manager
	challengeMemory *challenge.MemoryStore
	sessions        *session.Manager
	limiter         *rate.Limiter

	audit   *audit.Dispatcher
	metrics *Metrics

	stopSweep context.CancelFunc
	sweepDone <-chan struct{}
}

// Close stops background sweeping and flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopSweep != nil {
		e.stopSweep()
		<-e.sweepDone
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() error {
	if e == nil || e.directory == nil || e.challenges == nil || e.sessions == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Authenticate resolves token to the actor behind it and refreshes the
// session's idle window. Unknown, expired and orphaned tokens yield
// ErrUnauthenticated. Store failures match both ErrUnauthenticated and
// ErrBackendUnavailable.
func (e *Engine) Authenticate(ctx context.Context, token string) (Actor, error) {
	acc, err := e.AuthenticateAccount(ctx, token)
	if err != nil {
		return Actor{}, err
	}
	return acc.Actor(), nil
}

// AuthenticateAccount is Authenticate returning the whole account.
func (e *Engine) AuthenticateAccount(ctx context.Context, token string) (UserAccount, error) {
	if err := e.ready(); err != nil {
		return UserAccount{}, err
	}
	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}
	}()

	userID, err := e.sessions.Validate(ctx, token)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
			return UserAccount{}, ErrUnauthenticated
		}
		return UserAccount{}, fmt.Errorf("%w: %w", ErrUnauthenticated, backendErr(err))
	}

	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		_ = e.sessions.Invalidate(ctx, token)
		return UserAccount{}, ErrUnauthenticated
	}
	acc, err := e.directory.FindByID(ctx, id)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if errors.Is(err, directory.ErrNotFound) {
			_ = e.sessions.Invalidate(ctx, token)
			return UserAccount{}, ErrUnauthenticated
		}
		return UserAccount{}, fmt.Errorf("%w: %w", ErrUnauthenticated, backendErr(err))
	}
	return acc, nil
}

// Authorize decides whether actor may act on target's resources.
func (e *Engine) Authorize(actor Actor, target string) Decision {
	d := authz.Authorize(actor, target)
	if d == authz.Allow {
		e.metricInc(MetricAuthorizeAllow)
	} else {
		e.metricInc(MetricAuthorizeDeny)
	}
	return d
}

// AuthorizeToken authenticates token and authorizes the result against
// target. A Deny decision is not an error.
func (e *Engine) AuthorizeToken(ctx context.Context, token, target string) (Actor, Decision, error) {
	actor, err := e.Authenticate(ctx, token)
	if err != nil {
		return Actor{}, authz.Deny, err
	}
	return actor, e.Authorize(actor, target), nil
}

// Logout ends the session behind token. Unknown tokens are not an error.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.sessions.Invalidate(ctx, token); err != nil {
		return backendErr(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", "", nil, nil)
	return nil
}

// LogoutAll ends every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	n, err := e.sessions.InvalidateUser(ctx, formatUserID(userID))
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, formatUserID(userID), "", err, nil)
		return backendErr(err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, formatUserID(userID), "", nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(n)}
	})
	return nil
}

// ChallengeStatus reports the live challenge for identifier without
// consuming an attempt.
func (e *Engine) ChallengeStatus(ctx context.Context, identifier string) (Receipt, bool, error) {
	if err := e.ready(); err != nil {
		return Receipt{}, false, err
	}
	id := normalizeIdentifier(identifier)
	c, ok, err := e.challenges.Peek(ctx, id)
	if err != nil {
		return Receipt{}, false, backendErr(err)
	}
	if !ok {
		return Receipt{}, false, nil
	}
	return Receipt{
		Identifier: id,
		Channel:    c.Channel,
		ExpiresAt:  c.ExpiresAt,
		Remaining:  c.Remaining,
	}, true, nil
}

func (e *Engine) startSweepers(ctx context.Context, interval time.Duration) <-chan struct{} {
	sessionsDone := e.sessions.StartSweeper(ctx, interval)
	if e.challengeMemory == nil {
		return sessionsDone
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				<-sessionsDone
				return
			case <-ticker.C:
				if removed := e.challengeMemory.Sweep(e.clock.Now()); removed > 0 {
					e.logger.Debug("challenge sweep", "removed", removed)
				}
			}
		}
	}()
	return done
}

func (e *Engine) invalidateUserSessions(ctx context.Context, userID int64) error {
	n, err := e.sessions.InvalidateUser(ctx, formatUserID(userID))
	if err != nil {
		return backendErr(err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	return nil
}

func (e *Engine) createSession(ctx context.Context, acc UserAccount) (string, error) {
	token, err := e.sessions.Create(ctx, formatUserID(acc.ID))
	if err != nil {
		return "", backendErr(err)
	}
	e.metricInc(MetricSessionCreated)
	return token, nil
}

func formatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// normalizeIdentifier trims the identifier, lowercases email addresses and
// reduces phone numbers to '+' and digits. Usernames keep their case and
// never look like phones.
func normalizeIdentifier(identifier string) string {
	id := strings.TrimSpace(identifier)
	if strings.Contains(id, "@") {
		return strings.ToLower(id)
	}
	return delivery.CanonicalPhone(id)
}

// backendErr wraps store and directory failures once.
func backendErr(err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// lookupErr maps a directory lookup failure.
func lookupErr(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return ErrUserNotFound
	}
	return backendErr(err)
}
