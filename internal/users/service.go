package users

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew         = "users.service.new"
	opFindUser           = "users.find_user"
	opCreateUser         = "users.create_user"
	opUpdatePasswordHash = "users.update_password_hash"
	lookupByEmail        = "email"
	lookupByUsername     = "username"
	lookupByID           = "id"
	lookupByConnection   = "connection"
	serviceErrorMessage  = "users service error"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the gorm-backed credential store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists users, password hashes and provider connections through gorm.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the credential store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     cfg.Logger,
	}, nil
}

// FindUserByEmail looks up a user by normalized email.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, ErrNotFound
	}
	return s.findUser(ctx, lookupByEmail, "email = ?", normalized)
}

// FindUserByUsername looks up a user by exact username.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (User, error) {
	trimmed := normalize(username)
	if trimmed == "" {
		return User{}, ErrNotFound
	}
	return s.findUser(ctx, lookupByUsername, "username = ?", trimmed)
}

// FindUserByID looks up a user by identifier.
func (s *Service) FindUserByID(ctx context.Context, userID string) (User, error) {
	trimmed := normalize(userID)
	if trimmed == "" {
		return User{}, ErrNotFound
	}
	return s.findUser(ctx, lookupByID, "id = ?", trimmed)
}

// FindUserByConnection returns the user linked to a provider account.
func (s *Service) FindUserByConnection(ctx context.Context, provider, providerID string) (User, error) {
	var connection Connection
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_id = ?", normalize(provider), normalize(providerID)).
		Take(&connection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		s.logError(opFindUser, "connection_select_failed", err, zap.String("lookup", lookupByConnection))
		return User{}, newStoreError(opFindUser, "connection_select_failed", err)
	}
	return s.findUser(ctx, lookupByConnection, "id = ?", connection.UserID)
}

func (s *Service) findUser(ctx context.Context, lookup, query string, value string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Preload("PasswordHash").
		Preload("Connections").
		Where(query, value).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		s.logError(opFindUser, "query_failed", err, zap.String("lookup", lookup))
		return User{}, newStoreError(opFindUser, "query_failed", err)
	}
	return user, nil
}

// CreateUser inserts the user, its password hash and optional provider connection
// in one transaction. Uniqueness conflicts surface as *DuplicateError.
func (s *Service) CreateUser(ctx context.Context, input NewUser) (User, error) {
	email := NormalizeEmail(input.Email)
	username := normalize(input.Username)
	name := normalize(input.Name)
	if email == "" || username == "" || name == "" {
		return User{}, newStoreError(opCreateUser, "incomplete_user", errIncompleteUser)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateUser, "id_generation_failed", err)
		return User{}, newStoreError(opCreateUser, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	user := User{
		ID:                userID,
		Email:             email,
		Username:          username,
		Name:              name,
		AcceptsPromotions: input.Promotions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&user).Error; err != nil {
			return err
		}
		if input.PasswordHash != "" {
			hash := PasswordHash{UserID: userID, Hash: input.PasswordHash, CreatedAt: now}
			if err := tx.Create(&hash).Error; err != nil {
				return err
			}
			user.PasswordHash = &hash
		}
		if input.Connection != nil {
			connection := Connection{
				Provider:   normalize(input.Connection.Provider),
				ProviderID: normalize(input.Connection.ProviderID),
				UserID:     userID,
				CreatedAt:  now,
			}
			if err := tx.Create(&connection).Error; err != nil {
				return err
			}
			user.Connections = []Connection{connection}
		}
		return nil
	})
	if txErr != nil {
		if field, duplicate := duplicateField(txErr); duplicate {
			s.loggerOrDefault().Info("user creation conflicted",
				zap.String("operation", opCreateUser),
				zap.String("field", field))
			return User{}, &DuplicateError{Field: field}
		}
		s.logError(opCreateUser, "insert_failed", txErr)
		return User{}, newStoreError(opCreateUser, "insert_failed", txErr)
	}
	return user, nil
}

// UpdatePasswordHash replaces the user's password hash wholesale.
func (s *Service) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	trimmedID := normalize(userID)
	if trimmedID == "" {
		return newStoreError(opUpdatePasswordHash, "missing_user_id", errMissingUserID)
	}
	if hash == "" {
		return newStoreError(opUpdatePasswordHash, "missing_hash", errMissingHash)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner User
		if err := tx.Select("id").Where("id = ?", trimmedID).Take(&owner).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", trimmedID).Delete(&PasswordHash{}).Error; err != nil {
			return err
		}
		return tx.Create(&PasswordHash{UserID: trimmedID, Hash: hash, CreatedAt: s.clock().UTC()}).Error
	})
	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if txErr != nil {
		s.logError(opUpdatePasswordHash, "replace_failed", txErr, zap.String("user_id", trimmedID))
		return newStoreError(opUpdatePasswordHash, "replace_failed", txErr)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error(serviceErrorMessage, attrs...)
}
