// Package postgres implements directory.Directory on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/directory"
)

const uniqueViolation = "23505"

// Schema creates the accounts table. Empty contact fields are stored as
// NULL so the unique constraints ignore them.
const Schema = `
CREATE TABLE IF NOT EXISTS portal_users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT        NOT NULL,
	password_hash TEXT        NOT NULL,
	display_name  TEXT        NOT NULL DEFAULT '',
	role          TEXT        NOT NULL,
	group_name    TEXT        NOT NULL DEFAULT '',
	course        INTEGER     NOT NULL DEFAULT 0,
	department    TEXT        NOT NULL DEFAULT '',
	position      TEXT        NOT NULL DEFAULT '',
	curator_group TEXT        NOT NULL DEFAULT '',
	email         TEXT,
	phone         TEXT,
	verified      BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT portal_users_username_key UNIQUE (username),
	CONSTRAINT portal_users_email_key UNIQUE (email),
	CONSTRAINT portal_users_phone_key UNIQUE (phone)
)`

const selectColumns = `id, username, password_hash, display_name, role, group_name, course,
	department, position, curator_group, COALESCE(email, ''), COALESCE(phone, ''), verified, created_at`

var fieldColumns = map[directory.Field]string{
	directory.FieldUsername: "username",
	directory.FieldEmail:    "email",
	directory.FieldPhone:    "phone",
}

// Store is a pgxpool-backed directory.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Open parses dsn, creates a pool and pings it, retrying while the
// database container starts.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate portal_users: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (directory.Account, error) {
	var (
		a    directory.Account
		role string
	)
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.DisplayName, &role, &a.Group, &a.Course,
		&a.Department, &a.Position, &a.CuratorGroup, &a.Email, &a.Phone, &a.Verified, &a.CreatedAt)
	if err != nil {
		return directory.Account{}, mapError(err)
	}
	a.Role = authz.Role(role)
	return a, nil
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (directory.Account, error) {
	if identifier == "" {
		return directory.Account{}, directory.ErrNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM portal_users
		 WHERE username = $1 OR email = $1 OR phone = $1
		 ORDER BY (username = $1) DESC, id ASC
		 LIMIT 1`,
		identifier,
	)
	return scanAccount(row)
}

func (s *Store) FindByID(ctx context.Context, id int64) (directory.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM portal_users WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *Store) Create(ctx context.Context, in directory.NewAccount) (directory.Account, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO portal_users
			(username, password_hash, display_name, role, group_name, course,
			 department, position, curator_group, email, phone, verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10::text, ''), NULLIF($11::text, ''), $12)
		 RETURNING `+selectColumns,
		in.Username, in.PasswordHash, in.DisplayName, string(in.Role), in.Group, in.Course,
		in.Department, in.Position, in.CuratorGroup, in.Email, in.Phone, in.Verified,
	)
	return scanAccount(row)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func (s *Store) SetVerified(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE portal_users SET verified = TRUE WHERE id = $1`, id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.exec(ctx, `UPDATE portal_users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (s *Store) SetCuratorGroup(ctx context.Context, id int64, group string) error {
	return s.exec(ctx, `UPDATE portal_users SET curator_group = $2 WHERE id = $1`, id, group)
}

func (s *Store) Exists(ctx context.Context, field directory.Field, value string, role authz.Role) (bool, error) {
	column, ok := fieldColumns[field]
	if !ok {
		return false, fmt.Errorf("unknown field %q", field)
	}
	if value == "" {
		return false, nil
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM portal_users WHERE `+column+` = $1 AND ($2::text = '' OR role = $2))`,
		value, string(role),
	).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// mapError translates pgx errors into directory errors.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &directory.DuplicateError{Field: constraintField(pgErr.ConstraintName)}
	}
	return fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
}

func constraintField(constraint string) directory.Field {
	for field, column := range fieldColumns {
		if strings.Contains(constraint, "_"+column+"_") {
			return field
		}
	}
	return ""
}
