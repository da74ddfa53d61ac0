package models

import "time"

// Fulfillment proves that the leads for a transaction were handed out. The
// unique transaction id is the idempotency token of the whole allocation.
type Fulfillment struct {
	ID            string    `gorm:"primaryKey;type:char(36)" json:"id"`
	TransactionID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"transaction_id"`
	UserID        string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	LeadCount     int       `gorm:"not null" json:"lead_count"`
	PackageID     string    `gorm:"type:varchar(100);not null;default:''" json:"package_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
