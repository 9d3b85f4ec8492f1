package models

import "time"

// RequestStatus is the lifecycle state of a relationship request.
type RequestStatus string

const (
	// RequestStatusPending awaits the receiver's decision.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusAccepted created (or reactivated) a friendship.
	RequestStatusAccepted RequestStatus = "accepted"
	// RequestStatusDenied was declined by the receiver.
	RequestStatusDenied RequestStatus = "denied"
)

// Request is a directed proposal to become friends.
type Request struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	Sender     string        `gorm:"not null;index" json:"sender"`
	Receiver   string        `gorm:"not null;index" json:"receiver"`
	Status     RequestStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// TableName specifies the table name for GORM
func (Request) TableName() string {
	return "friend_requests"
}
