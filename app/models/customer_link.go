package models

import "time"

// CustomerLink maps a local user to a payment processor customer. A user may
// own several processor customers (re-linking, second checkout email), so the
// link is many-to-one and is only ever inserted, never rewritten.
type CustomerLink struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	ProcessorCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"processor_customer_id"`
	Email               string    `gorm:"type:varchar(200);not null;default:'';index" json:"email"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}
