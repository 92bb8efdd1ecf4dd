// Package mysql implements directory.Directory on MySQL through
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/directory"
)

const errDupEntry = 1062

// Schema creates the accounts table. Empty contact fields are stored as
// NULL so the unique keys ignore them.
const Schema = `
CREATE TABLE IF NOT EXISTS portal_users (
	id            BIGINT AUTO_INCREMENT PRIMARY KEY,
	username      VARCHAR(191) NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	display_name  VARCHAR(255) NOT NULL DEFAULT '',
	role          VARCHAR(32)  NOT NULL,
	group_name    VARCHAR(64)  NOT NULL DEFAULT '',
	course        INT          NOT NULL DEFAULT 0,
	department    VARCHAR(255) NOT NULL DEFAULT '',
	position      VARCHAR(255) NOT NULL DEFAULT '',
	curator_group VARCHAR(64)  NOT NULL DEFAULT '',
	email         VARCHAR(191) NULL,
	phone         VARCHAR(32)  NULL,
	verified      BOOLEAN      NOT NULL DEFAULT FALSE,
	created_at    DATETIME(3)  NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	UNIQUE KEY username (username),
	UNIQUE KEY email (email),
	UNIQUE KEY phone (phone)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const selectColumns = `id, username, password_hash, display_name, role, group_name, course,
	department, position, curator_group, COALESCE(email, ''), COALESCE(phone, ''), verified, created_at`

var fieldColumns = map[directory.Field]string{
	directory.FieldUsername: "username",
	directory.FieldEmail:    "email",
	directory.FieldPhone:    "phone",
}

// Store is a database/sql backed directory.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

// Open connects to MySQL and verifies the connection.
func Open(user, pass, addr, name string) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate portal_users: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (directory.Account, error) {
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
	row := s.DB.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM portal_users WHERE username=? OR email=? OR phone=? ORDER BY (username=?) DESC, id ASC LIMIT 1",
		identifier, identifier, identifier, identifier)
	return scanAccount(row)
}

func (s *Store) FindByID(ctx context.Context, id int64) (directory.Account, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM portal_users WHERE id=? LIMIT 1", id)
	return scanAccount(row)
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (s *Store) Create(ctx context.Context, in directory.NewAccount) (directory.Account, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO portal_users
			(username, password_hash, display_name, role, group_name, course,
			 department, position, curator_group, email, phone, verified)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.Username, in.PasswordHash, in.DisplayName, string(in.Role), in.Group, in.Course,
		in.Department, in.Position, in.CuratorGroup, nullable(in.Email), nullable(in.Phone), in.Verified)
	if err != nil {
		return directory.Account{}, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return directory.Account{}, mapError(err)
	}
	return s.FindByID(ctx, id)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		// MySQL reports 0 for unchanged rows too; tell them apart.
		var one int
		if err := s.DB.QueryRowContext(ctx, "SELECT 1 FROM portal_users WHERE id=?", args[len(args)-1]).Scan(&one); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) SetVerified(ctx context.Context, id int64) error {
	return s.exec(ctx, "UPDATE portal_users SET verified=TRUE WHERE id=?", id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.exec(ctx, "UPDATE portal_users SET password_hash=? WHERE id=?", hash, id)
}

func (s *Store) SetCuratorGroup(ctx context.Context, id int64, group string) error {
	return s.exec(ctx, "UPDATE portal_users SET curator_group=? WHERE id=?", group, id)
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
	err := s.DB.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM portal_users WHERE "+column+"=? AND (?='' OR role=?))",
		value, string(role), string(role)).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// mapError translates driver errors into directory errors.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ErrNotFound
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errDupEntry {
		return &directory.DuplicateError{Field: duplicateKeyField(myErr.Message)}
	}
	return fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
}

// duplicateKeyField extracts the key name from
// "Duplicate entry 'x' for key 'portal_users.email'" (or 'email' on older
// servers).
func duplicateKeyField(message string) directory.Field {
	const marker = "for key '"
	i := strings.LastIndex(message, marker)
	if i < 0 {
		return ""
	}
	key := strings.TrimSuffix(message[i+len(marker):], "'")
	if dot := strings.LastIndex(key, "."); dot >= 0 {
		key = key[dot+1:]
	}
	for field, column := range fieldColumns {
		if key == column {
			return field
		}
	}
	return ""
}
