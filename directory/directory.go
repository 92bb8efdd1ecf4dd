package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/authz"
)

// Field names a unique account attribute.
type Field string

const (
	FieldUsername Field = "username"
	FieldEmail    Field = "email"
	FieldPhone    Field = "phone"
)

func (f Field) Valid() bool {
	return f == FieldUsername || f == FieldEmail || f == FieldPhone
}

var (
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is matched by every *DuplicateError.
	ErrDuplicate = errors.New("account already exists")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("user directory unavailable")
)

// DuplicateError reports which unique field collided.
type DuplicateError struct {
	Field Field
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return fmt.Sprintf("%s: %s taken", ErrDuplicate, e.Field)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// Account is one portal user.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	DisplayName  string
	Role         authz.Role

	Group        string
	Course       int
	Department   string
	Position     string
	CuratorGroup string

	Email    string
	Phone    string
	Verified bool

	CreatedAt time.Time
}

// Actor is the authorization view of the account.
func (a Account) Actor() authz.Actor {
	return authz.Actor{
		UserID:       a.ID,
		Role:         a.Role,
		Group:        a.Group,
		CuratorGroup: a.CuratorGroup,
	}
}

// NewAccount is the input to Directory.Create.
type NewAccount struct {
	Username     string
	PasswordHash string
	DisplayName  string
	Role         authz.Role

	Group        string
	Course       int
	Department   string
	Position     string
	CuratorGroup string

	Email    string
	Phone    string
	Verified bool
}

// Directory is the account store the portal authenticates against.
//
// FindByIdentifier matches username, email or phone exactly; callers
// normalize identifiers beforehand. Exists with an empty role matches any
// role.
type Directory interface {
	FindByIdentifier(ctx context.Context, identifier string) (Account, error)
	FindByID(ctx context.Context, id int64) (Account, error)
	Create(ctx context.Context, acc NewAccount) (Account, error)
	SetVerified(ctx context.Context, id int64) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	Exists(ctx context.Context, field Field, value string, role authz.Role) (bool, error)
	SetCuratorGroup(ctx context.Context, id int64, group string) error
}
