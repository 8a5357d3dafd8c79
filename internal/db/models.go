package db

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a delete or lookup matched no rows.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken is returned when a registration lacks an identity or token.
	ErrInvalidToken = errors.New("identity and token are required")
)

// Platform constants
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// TokenRegistration is the input to an upsert of a device token.
type TokenRegistration struct {
	Identity string
	Token    string
	Platform string
	Sandbox  bool
	AppID    *string
	UserID   *string
}

// DeviceToken is a stored push token row.
type DeviceToken struct {
	Identity  string    `json:"pub_key"`
	Token     string    `json:"-"`
	Platform  string    `json:"platform"`
	Sandbox   bool      `json:"sandbox"`
	AppID     *string   `json:"app_id,omitempty"`
	UserID    *string   `json:"user_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reminder is a scheduled reminder_notifications row.
type Reminder struct {
	ID        uuid.UUID `json:"id"`
	Identity  string    `json:"pub_key"`
	Type      string    `json:"reminder_type"`
	SendAt    time.Time `json:"send_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeIdentity lower-cases an identity key. Every read and write of an
// identity goes through here.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
