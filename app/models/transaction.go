package models

import "time"

// TransactionStatusCompleted is the canonical terminal success status. Other
// processor spellings are normalized to it by the billing package.
const TransactionStatusCompleted = "completed"

// Transaction mirrors a payment processor transaction. The processor owns the
// lifecycle; locally the row is only read, except for best-effort backfills
// from the webhook mirror.
type Transaction struct {
	ID         string    `gorm:"primaryKey;type:varchar(191)" json:"id"`
	CustomerID string    `gorm:"type:varchar(191);not null;default:'';index" json:"customer_id"`
	Status     string    `gorm:"type:varchar(50);not null;default:'';index" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `gorm:"index" json:"updated_at"`
}

// LastActivity returns the most recent of CreatedAt and UpdatedAt.
func (t *Transaction) LastActivity() time.Time {
	if t.UpdatedAt.After(t.CreatedAt) {
		return t.UpdatedAt
	}
	return t.CreatedAt
}
