package users

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const (
	FieldEmail      = "email"
	FieldUsername   = "username"
	FieldConnection = "connection"
)

var (
	// ErrNotFound reports that no user matched the lookup.
	ErrNotFound = errors.New("users: not found")
	// ErrUnavailable matches every storage failure that is not a lookup miss or a duplicate.
	ErrUnavailable = errors.New("users: store unavailable")

	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	errIncompleteUser  = errors.New("email, username and name are required")
	errMissingHash     = errors.New("password hash is required")
)

// DuplicateError reports a uniqueness conflict on Field.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("users: duplicate %s", e.Field)
}

// StoreError wraps a storage failure with an operation.reason code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// duplicateField maps a unique constraint failure onto the offending field.
func duplicateField(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	message := err.Error()
	if strings.Contains(message, "UNIQUE constraint failed") {
		switch {
		case strings.Contains(message, "users.email"):
			return FieldEmail, true
		case strings.Contains(message, "users.username"):
			return FieldUsername, true
		case strings.Contains(message, "user_connections."):
			return FieldConnection, true
		}
		return "", true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", true
	}
	return "", false
}
