package users

import (
	"fmt"

	"github.com/google/uuid"
)

// IDProvider issues user identifiers. Both stores share it so ids are
// time-ordered regardless of the database driver.
type IDProvider interface {
	NewID() (string, error)
}

// NewUUIDProvider returns the default provider, issuing UUIDv7 strings.
func NewUUIDProvider() IDProvider {
	return uuidV7Provider{}
}

type uuidV7Provider struct{}

func (uuidV7Provider) NewID() (string, error) {
	userID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate user id: %w", err)
	}
	return userID.String(), nil
}
