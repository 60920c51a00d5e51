package models

import (
	"time"
)

// User represents a registered user. Guests authoring a draft have no User
// until they complete real sign-in; the guest gate alone never creates one.
type User struct {
	Base         `bson:",inline"`
	Name         string    `bson:"name" json:"name"`
	Phone        string    `bson:"phone" json:"phone"`
	Email        string    `bson:"email,omitempty" json:"email,omitempty"`
	PasswordHash string    `bson:"password" json:"-"` // Store hash, not plaintext
	IsAdmin      bool      `bson:"is_admin" json:"is_admin"`
	Suspended    bool      `bson:"suspended" json:"suspended"`
	Activated    bool      `bson:"activated" json:"activated"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
	Deleted      bool      `bson:"deleted" json:"-"` // Soft delete flag
}
