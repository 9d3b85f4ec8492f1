package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the lifecycle state of a ledger entry. Cancellation is not a
// status: a cancelled entry is deleted.
type EntryStatus string

const (
	// EntryStatusPending awaits the receiver's approval.
	EntryStatusPending EntryStatus = "pending"
	// EntryStatusCompleted counts towards the pair's balance.
	EntryStatusCompleted EntryStatus = "completed"
	// EntryStatusRejected was declined by the receiver.
	EntryStatusRejected EntryStatus = "rejected"
)

// LedgerEntry records a signed amount owed between two identities. A positive
// amount means the receiver owes the sender; a negative amount records money
// the sender already received and settles immediately.
type LedgerEntry struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	Sender      string          `gorm:"not null;index:idx_entry_pair" json:"sender"`
	Receiver    string          `gorm:"not null;index:idx_entry_pair" json:"receiver"`
	Amount      decimal.Decimal `gorm:"type:numeric(16,2);not null" json:"amount"`
	Description string          `gorm:"size:280" json:"description,omitempty"`
	Status      EntryStatus     `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// TableName specifies the table name for GORM
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// InitialStatus derives the creation status from the sign of amount.
func InitialStatus(amount decimal.Decimal) EntryStatus {
	if amount.IsNegative() {
		return EntryStatusCompleted
	}
	return EntryStatusPending
}

// Contribution is the entry's effect on viewer's balance: +amount for the
// sender, -amount for the receiver, zero unless completed.
func (e *LedgerEntry) Contribution(viewer string) decimal.Decimal {
	if e.Status != EntryStatusCompleted {
		return decimal.Zero
	}
	switch viewer {
	case e.Sender:
		return e.Amount
	case e.Receiver:
		return e.Amount.Neg()
	default:
		return decimal.Zero
	}
}
