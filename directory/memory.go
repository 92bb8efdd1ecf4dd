package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/portalauth/authz"
)

// Memory is an in-process Directory. It is the default backend for tests
// and single-node deployments.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]Account
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID: make(map[int64]Account),
		now:  time.Now,
	}
}

func (m *Memory) FindByIdentifier(_ context.Context, identifier string) (Account, error) {
	if identifier == "" {
		return Account{}, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Username wins over contact fields, then lowest id.
	var (
		found Account
		ok    bool
	)
	for _, acc := range m.byID {
		if acc.Username == identifier {
			return acc, nil
		}
		if acc.Email == identifier || acc.Phone == identifier {
			if !ok || acc.ID < found.ID {
				found, ok = acc, true
			}
		}
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	return found, nil
}

func (m *Memory) FindByID(_ context.Context, id int64) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (m *Memory) Create(_ context.Context, in NewAccount) (Account, error) {
	if in.Username == "" {
		return Account{}, fmt.Errorf("create account: username is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.byID {
		switch {
		case acc.Username == in.Username:
			return Account{}, &DuplicateError{Field: FieldUsername}
		case in.Email != "" && acc.Email == in.Email:
			return Account{}, &DuplicateError{Field: FieldEmail}
		case in.Phone != "" && acc.Phone == in.Phone:
			return Account{}, &DuplicateError{Field: FieldPhone}
		}
	}

	m.nextID++
	acc := Account{
		ID:           m.nextID,
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		Group:        in.Group,
		Course:       in.Course,
		Department:   in.Department,
		Position:     in.Position,
		CuratorGroup: in.CuratorGroup,
		Email:        in.Email,
		Phone:        in.Phone,
		Verified:     in.Verified,
		CreatedAt:    m.now().UTC(),
	}
	m.byID[acc.ID] = acc
	return acc, nil
}

func (m *Memory) update(id int64, fn func(*Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&acc)
	m.byID[id] = acc
	return nil
}

func (m *Memory) SetVerified(_ context.Context, id int64) error {
	return m.update(id, func(a *Account) { a.Verified = true })
}

func (m *Memory) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	return m.update(id, func(a *Account) { a.PasswordHash = hash })
}

func (m *Memory) SetCuratorGroup(_ context.Context, id int64, group string) error {
	return m.update(id, func(a *Account) { a.CuratorGroup = group })
}

func (m *Memory) Exists(_ context.Context, field Field, value string, role authz.Role) (bool, error) {
	if !field.Valid() {
		return false, fmt.Errorf("unknown field %q", field)
	}
	if value == "" {
		return false, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acc := range m.byID {
		if role != "" && acc.Role != role {
			continue
		}
		var v string
		switch field {
		case FieldUsername:
			v = acc.Username
		case FieldEmail:
			v = acc.Email
		case FieldPhone:
			v = acc.Phone
		}
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of accounts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
