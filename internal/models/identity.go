// Package models contains data structures for the ledger's domain models.
package models

import (
	"time"
)

// Identity is a registered user of the ledger. The username is its natural key.
// The JSON form is the storage codec; API responses use Profile or Summary.
type Identity struct {
	Username     string    `gorm:"primaryKey;size:32" json:"username"`
	DisplayName  string    `gorm:"size:64" json:"display_name"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"password_hash"`
	Avatar       string    `json:"avatar,omitempty"`
	DeviceToken  string    `json:"device_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Identity) TableName() string {
	return "identities"
}

// IdentitySummary is the public projection embedded in other responses.
type IdentitySummary struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

// Summary returns the public projection of the identity.
func (i *Identity) Summary() IdentitySummary {
	return IdentitySummary{
		Username:    i.Username,
		DisplayName: i.DisplayName,
		Avatar:      i.Avatar,
	}
}

// Profile is the identity as returned to its owner.
type Profile struct {
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	Email          string    `json:"email"`
	Avatar         string    `json:"avatar,omitempty"`
	HasDeviceToken bool      `json:"has_device_token"`
	CreatedAt      time.Time `json:"created_at"`
}

// Profile returns the owner-facing projection of the identity.
func (i *Identity) Profile() Profile {
	return Profile{
		Username:       i.Username,
		DisplayName:    i.DisplayName,
		Email:          i.Email,
		Avatar:         i.Avatar,
		HasDeviceToken: i.DeviceToken != "",
		CreatedAt:      i.CreatedAt,
	}
}
