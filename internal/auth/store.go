// Package auth provides the SQLite-backed user store for the web channel:
// bcrypt password verification, Telegram account linking, and JWT session
// tokens.
package auth

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists is returned when the username is already taken.
	ErrUserExists = errors.New("username already exists")
	// ErrUserNotFound is returned for lookups that match no user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers both a wrong password and an unknown
	// username, so callers cannot probe which usernames exist.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// dummyHash is compared against when the username does not exist, so the
// verify path costs one bcrypt round either way.
var dummyHash = mustHash("dummy")

func mustHash(password string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}

// User is one authenticated account. TelegramID zero means unlinked.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	TelegramID   int64
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

// Store persists users in a SQLite database and signs session tokens.
type Store struct {
	db     *sql.DB
	secret string
	expiry time.Duration
}

const userSelectCols = `id, username, password_hash, telegram_id, created_at, last_seen_at`

// Open opens (creating if needed) the user database at path and applies
// pending migrations. jwtSecret signs session tokens; tokens are refused
// when it is empty.
func Open(path, jwtSecret string, tokenExpiry time.Duration) (*Store, error) {
	if strings.Contains(jwtSecret, "CHANGE-ME") {
		slog.Warn("jwt secret contains placeholder value, web sessions will be insecure")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create auth db dir: %w", err)
	}

	if err := applyMigrations(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open auth db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping auth db: %w", err)
	}

	return &Store{db: db, secret: jwtSecret, expiry: tokenExpiry}, nil
}

func applyMigrations(path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser registers a new user with a bcrypt-hashed password. Usernames
// are 3-32 chars of [a-zA-Z0-9_-]; passwords need 6+ chars.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*User, error) {
	if len(username) < 3 || len(username) > 32 {
		return nil, fmt.Errorf("username must be 3-32 characters")
	}
	if !usernameRe.MatchString(username) {
		return nil, fmt.Errorf("username may only contain letters, digits, _ and -")
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	userID := "user-" + uuid.New().String()[:8]

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, telegram_id, created_at, last_seen_at)
		 VALUES (?, ?, ?, NULL, ?, ?)`,
		userID, username, string(hash), formatTime(now), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetByUsername(ctx, username)
}

// VerifyPassword checks the credentials and returns the user on success.
// Unknown usernames and wrong passwords both return ErrInvalidCredentials
// after a full bcrypt comparison.
func (s *Store) VerifyPassword(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.touchLastSeen(ctx, user.ID); err != nil {
		slog.Warn("last seen update failed", "user", username, "error", err)
	}
	return user, nil
}

// GetByUsername returns the user with the given username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetByID returns the user with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByTelegramID returns the user linked to the given Telegram account.
func (s *Store) GetByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE telegram_id = ?`, telegramID)
	return scanUser(row)
}

// LinkTelegram associates a Telegram account with an existing user.
func (s *Store) LinkTelegram(ctx context.Context, username string, telegramID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET telegram_id = ? WHERE username = ?`, telegramID, username)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("telegram id %d is already linked to another user", telegramID)
		}
		return fmt.Errorf("link telegram: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPassword replaces the user's password hash.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE username = ?`, string(hash), username)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the user with the given username.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userSelectCols+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) touchLastSeen(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row *sql.Row) (*User, error) {
	u, err := scanUserRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func scanUserRows(row rowScanner) (*User, error) {
	var u User
	var telegramID sql.NullInt64
	var createdAt, lastSeenAt string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &telegramID, &createdAt, &lastSeenAt); err != nil {
		return nil, err
	}
	u.TelegramID = telegramID.Int64
	u.CreatedAt = parseTime(createdAt)
	u.LastSeenAt = parseTime(lastSeenAt)
	return &u, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
