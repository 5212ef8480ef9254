package identity

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account holder.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Credentials carries a login attempt.
type Credentials struct {
	Username string
	Password string
}
