package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/directory"
)

// Register creates a pending (unverified) account. Every check runs before
// the directory is touched; a request that fails any of them creates
// nothing. Register does not send a code: call IssueChallenge next.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (UserAccount, error) {
	if err := e.ready(); err != nil {
		return UserAccount{}, err
	}

	acc, err := e.createAccount(ctx, req, false)
	if err != nil {
		e.emitAudit(ctx, registerFailureEvent(err), false, "", strings.TrimSpace(req.Username), err, nil)
		return UserAccount{}, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, formatUserID(acc.ID), acc.Username, nil, func() map[string]string {
		return map[string]string{"role": string(acc.Role)}
	})
	return acc, nil
}

func registerFailureEvent(err error) string {
	if errors.Is(err, ErrDuplicateIdentifier) {
		return auditEventRegisterDuplicate
	}
	return auditEventRegisterFailure
}

// createAccount validates req, checks uniqueness and creates the account.
// provisioned lifts the self-registration role restriction, accepts a
// curator group and creates the account verified.
func (e *Engine) createAccount(ctx context.Context, req RegisterRequest, provisioned bool) (UserAccount, error) {
	in, err := e.normalizeRegistration(req, provisioned)
	if err != nil {
		e.metricInc(MetricRegisterRejected)
		return UserAccount{}, err
	}

	for _, check := range []struct {
		field directory.Field
		value string
	}{
		{directory.FieldUsername, in.Username},
		{directory.FieldEmail, in.Email},
		{directory.FieldPhone, in.Phone},
	} {
		if check.value == "" {
			continue
		}
		taken, err := e.directory.Exists(ctx, check.field, check.value, "")
		if err != nil {
			return UserAccount{}, backendErr(err)
		}
		if taken {
			e.metricInc(MetricRegisterDuplicate)
			return UserAccount{}, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, check.field)
		}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	in.PasswordHash = hash

	acc, err := e.directory.Create(ctx, in)
	if err != nil {
		var dup *directory.DuplicateError
		if errors.As(err, &dup) {
			e.metricInc(MetricRegisterDuplicate)
			return UserAccount{}, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, dup.Field)
		}
		if errors.Is(err, directory.ErrDuplicate) {
			e.metricInc(MetricRegisterDuplicate)
			return UserAccount{}, ErrDuplicateIdentifier
		}
		return UserAccount{}, backendErr(err)
	}
	return acc, nil
}

func (e *Engine) normalizeRegistration(req RegisterRequest, provisioned bool) (directory.NewAccount, error) {
	cfg := e.config.Registration

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return directory.NewAccount{}, fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if len(username) > cfg.MaxUsernameLength {
		return directory.NewAccount{}, fmt.Errorf("%w: username longer than %d bytes", ErrInvalidRequest, cfg.MaxUsernameLength)
	}
	if strings.ContainsRune(username, '@') || strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return directory.NewAccount{}, fmt.Errorf("%w: username must not contain '@' or spaces", ErrInvalidRequest)
	}
	if delivery.IsPhone(username) {
		return directory.NewAccount{}, fmt.Errorf("%w: username must not look like a phone number", ErrInvalidRequest)
	}

	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return directory.NewAccount{}, err
	}

	role := req.Role
	if !role.Valid() {
		return directory.NewAccount{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	if !provisioned && !e.selfRegistrable(role) {
		return directory.NewAccount{}, fmt.Errorf("%w: role %q cannot self-register", ErrInvalidRequest, role)
	}

	p := req.Profile
	in := directory.NewAccount{
		Username:    username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        role,
		Email:       normalizeIdentifier(p.Email),
		Phone:       delivery.CanonicalPhone(p.Phone),
		Verified:    provisioned,
	}
	if in.DisplayName == "" {
		in.DisplayName = username
	}

	if in.Email != "" && !delivery.IsEmail(in.Email) {
		return directory.NewAccount{}, fmt.Errorf("%w: malformed email", ErrInvalidRequest)
	}
	if in.Phone != "" && !delivery.IsPhone(in.Phone) {
		return directory.NewAccount{}, fmt.Errorf("%w: malformed phone", ErrInvalidRequest)
	}
	if !provisioned && in.Email == "" && in.Phone == "" {
		return directory.NewAccount{}, fmt.Errorf("%w: email or phone is required", ErrInvalidRequest)
	}

	switch {
	case role.InGroup():
		in.Group = strings.TrimSpace(p.Group)
		if in.Group == "" {
			return directory.NewAccount{}, fmt.Errorf("%w: group is required for %s", ErrInvalidRequest, role)
		}
		in.Course = p.Course
		if in.Course == 0 {
			in.Course = cfg.DefaultCourse
		}
		if in.Course < 1 || in.Course > cfg.MaxCourse {
			return directory.NewAccount{}, fmt.Errorf("%w: course must be between 1 and %d", ErrInvalidRequest, cfg.MaxCourse)
		}
	case role == authz.RoleTeacher:
		in.Department = strings.TrimSpace(p.Department)
		in.Position = strings.TrimSpace(p.Position)
		if group := strings.TrimSpace(p.CuratorGroup); group != "" {
			if !provisioned {
				return directory.NewAccount{}, fmt.Errorf("%w: curator group is assigned by an administrator", ErrInvalidRequest)
			}
			in.CuratorGroup = group
		}
	default:
		in.Position = strings.TrimSpace(p.Position)
	}

	return in, nil
}

func (e *Engine) selfRegistrable(role authz.Role) bool {
	for _, r := range e.config.Registration.SelfRegistrableRoles {
		if r == role {
			return true
		}
	}
	return false
}

// checkPasswordPolicy enforces length bounds. Length is counted in runes
// for the minimum and in bytes for the maximum.
func (e *Engine) checkPasswordPolicy(pw string) error {
	cfg := e.config.Password
	if len([]rune(pw)) < cfg.MinLength {
		return fmt.Errorf("%w: at least %d characters required", ErrPasswordPolicy, cfg.MinLength)
	}
	if len(pw) > cfg.MaxLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrPasswordPolicy, cfg.MaxLength)
	}
	return nil
}
