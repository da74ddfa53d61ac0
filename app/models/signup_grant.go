package models

import "time"

// SignupGrant records the one free starter allocation a user may receive.
// IPHash is a keyed hash of the client IP and is only used for throttling.
type SignupGrant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"user_id"`
	IPHash    string    `gorm:"type:varchar(64);not null;default:'';index:idx_signup_grants_ip_created,priority:1" json:"-"`
	LeadCount int       `gorm:"not null" json:"lead_count"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_signup_grants_ip_created,priority:2" json:"created_at"`
}
