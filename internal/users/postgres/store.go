// Package postgres implements the credential store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

const (
	codeStoreUnavailable = "USER_STORE_UNAVAILABLE"
	codeInvalidInput     = "USER_STORE_INVALID_INPUT"

	selectUserColumns = `SELECT u.id, u.email, u.username, u.name, u.accepts_promotions, u.created_at, u.updated_at, ph.hash
		FROM users u LEFT JOIN password_hashes ph ON ph.user_id = u.id`
)

// Pool is the subset of *pgxpool.Pool the store needs; pgxmock pools satisfy it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config wires a Store.
type Config struct {
	Pool       Pool
	Clock      func() time.Time
	IDProvider users.IDProvider
	Logger     *zap.Logger
}

// Store persists users, password hashes and provider connections in PostgreSQL.
type Store struct {
	pool       Pool
	clock      func() time.Time
	idProvider users.IDProvider
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, oops.Code(codeInvalidInput).In("users.postgres").Errorf("pool is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = users.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: cfg.Pool, clock: clock, idProvider: idProvider, logger: logger}, nil
}

// FindUserByEmail looks a user up by normalized email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (users.User, error) {
	normalized := users.NormalizeEmail(email)
	if normalized == "" {
		return users.User{}, users.ErrNotFound
	}
	return s.findUser(ctx, "find user by email", selectUserColumns+` WHERE u.email = $1`, normalized)
}

// FindUserByUsername looks a user up by exact username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (users.User, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return users.User{}, users.ErrNotFound
	}
	return s.findUser(ctx, "find user by username", selectUserColumns+` WHERE u.username = $1`, trimmed)
}

// FindUserByID looks a user up by id.
func (s *Store) FindUserByID(ctx context.Context, userID string) (users.User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return users.User{}, users.ErrNotFound
	}
	return s.findUser(ctx, "find user by id", selectUserColumns+` WHERE u.id = $1`, trimmed)
}

// FindUserByConnection returns the user linked to the provider account.
func (s *Store) FindUserByConnection(ctx context.Context, provider, providerID string) (users.User, error) {
	return s.findUser(ctx, "find user by connection",
		selectUserColumns+` JOIN user_connections c ON c.user_id = u.id WHERE c.provider = $1 AND c.provider_id = $2`,
		strings.TrimSpace(provider), strings.TrimSpace(providerID))
}

func (s *Store) findUser(ctx context.Context, operation, query string, args ...any) (users.User, error) {
	var (
		user users.User
		hash pgtype.Text
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Username, &user.Name, &user.AcceptsPromotions,
		&user.CreatedAt, &user.UpdatedAt, &hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return users.User{}, users.ErrNotFound
	}
	if err != nil {
		return users.User{}, s.unavailable(operation, err)
	}
	if hash.Valid && hash.String != "" {
		user.PasswordHash = &users.PasswordHash{UserID: user.ID, Hash: hash.String}
	}

	rows, err := s.pool.Query(ctx, `SELECT provider, provider_id, created_at FROM user_connections WHERE user_id = $1`, user.ID)
	if err != nil {
		return users.User{}, s.unavailable("list user connections", err)
	}
	defer rows.Close()
	for rows.Next() {
		connection := users.Connection{UserID: user.ID}
		if err := rows.Scan(&connection.Provider, &connection.ProviderID, &connection.CreatedAt); err != nil {
			return users.User{}, s.unavailable("scan user connection", err)
		}
		user.Connections = append(user.Connections, connection)
	}
	if err := rows.Err(); err != nil {
		return users.User{}, s.unavailable("iterate user connections", err)
	}
	return user, nil
}

// CreateUser inserts the user, hash and optional connection in one transaction.
func (s *Store) CreateUser(ctx context.Context, input users.NewUser) (users.User, error) {
	email := users.NormalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)
	name := strings.TrimSpace(input.Name)
	if email == "" || username == "" || name == "" {
		return users.User{}, oops.Code(codeInvalidInput).In("users.postgres").Errorf("email, username and name are required")
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return users.User{}, s.unavailable("generate user id", err)
	}
	now := s.clock().UTC()
	user := users.User{
		ID:                userID,
		Email:             email,
		Username:          username,
		Name:              name,
		AcceptsPromotions: input.Promotions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, username, name, accepts_promotions, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			user.ID, user.Email, user.Username, user.Name, user.AcceptsPromotions, now, now,
		); err != nil {
			return err
		}
		if input.PasswordHash != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO password_hashes (user_id, hash, created_at) VALUES ($1, $2, $3)`,
				user.ID, input.PasswordHash, now,
			); err != nil {
				return err
			}
			user.PasswordHash = &users.PasswordHash{UserID: user.ID, Hash: input.PasswordHash, CreatedAt: now}
		}
		if input.Connection != nil {
			connection := users.Connection{
				Provider:   strings.TrimSpace(input.Connection.Provider),
				ProviderID: strings.TrimSpace(input.Connection.ProviderID),
				UserID:     user.ID,
				CreatedAt:  now,
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_connections (provider, provider_id, user_id, created_at) VALUES ($1, $2, $3, $4)`,
				connection.Provider, connection.ProviderID, connection.UserID, now,
			); err != nil {
				return err
			}
			user.Connections = []users.Connection{connection}
		}
		return nil
	})
	if err != nil {
		if field, duplicate := duplicateField(err); duplicate {
			s.logger.Info("user creation conflicted", zap.String("operation", "users.postgres.create_user"), zap.String("field", field))
			return users.User{}, &users.DuplicateError{Field: field}
		}
		return users.User{}, s.unavailable("create user", err)
	}
	return user, nil
}

// UpdatePasswordHash deletes the current hash and inserts the replacement atomically.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	trimmedID := strings.TrimSpace(userID)
	if trimmedID == "" || hash == "" {
		return oops.Code(codeInvalidInput).In("users.postgres").Errorf("user id and hash are required")
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, trimmedID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return users.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM password_hashes WHERE user_id = $1`, trimmedID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO password_hashes (user_id, hash, created_at) VALUES ($1, $2, $3)`, trimmedID, hash, s.clock().UTC())
		return err
	})
	if errors.Is(err, users.ErrNotFound) {
		return users.ErrNotFound
	}
	if err != nil {
		return s.unavailable("update password hash", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) unavailable(operation string, err error) error {
	s.logger.Error("users store error",
		zap.String("operation", "users.postgres"),
		zap.String("reason", operation),
		zap.Error(err))
	return oops.Code(codeStoreUnavailable).
		In("users.postgres").
		With("operation", operation).
		Wrap(errors.Join(users.ErrUnavailable, err))
}

// duplicateField maps a unique_violation onto the offending field.
func duplicateField(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return users.FieldEmail, true
	case strings.Contains(pgErr.ConstraintName, "username"):
		return users.FieldUsername, true
	case strings.HasPrefix(pgErr.ConstraintName, "user_connections"):
		return users.FieldConnection, true
	}
	return "", true
}
