package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	LeadStatusAvailable = "available"
	LeadStatusAssigned  = "assigned"

	UserLeadStatusNew = "new"
)

// Lead is one unit of the shared inventory pool. It moves from available to
// assigned exactly once and then stays as the record of who received it.
type Lead struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"type:varchar(150);not null;default:''" json:"name"`
	Email      string     `gorm:"type:varchar(200);not null;default:''" json:"email"`
	Phone      string     `gorm:"type:varchar(50);not null;default:''" json:"phone"`
	Company    string     `gorm:"type:varchar(200);not null;default:''" json:"company"`
	Industry   string     `gorm:"type:varchar(100);not null;default:''" json:"industry"`
	Location   string     `gorm:"type:varchar(150);not null;default:''" json:"location"`
	Status     string     `gorm:"type:varchar(20);not null;default:'available';index:idx_leads_status_assigned,priority:1" json:"status"`
	AssignedTo *string    `gorm:"type:varchar(64);index:idx_leads_status_assigned,priority:2" json:"assigned_to,omitempty"`
	AssignedAt *time.Time `gorm:"default:null" json:"assigned_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// CopyFor builds the user-owned copy of the lead.
func (l *Lead) CopyFor(userID string) UserLead {
	return UserLead{
		ID:           uuid.NewString(),
		UserID:       userID,
		SourceLeadID: l.ID,
		Name:         l.Name,
		Email:        l.Email,
		Phone:        l.Phone,
		Company:      l.Company,
		Industry:     l.Industry,
		Location:     l.Location,
		Status:       UserLeadStatusNew,
	}
}

// UserLead is a user's private, editable copy of an allocated lead.
type UserLead struct {
	ID           string    `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID       string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	SourceLeadID uint      `gorm:"not null;uniqueIndex" json:"source_lead_id"`
	Name         string    `gorm:"type:varchar(150);not null;default:''" json:"name"`
	Email        string    `gorm:"type:varchar(200);not null;default:''" json:"email"`
	Phone        string    `gorm:"type:varchar(50);not null;default:''" json:"phone"`
	Company      string    `gorm:"type:varchar(200);not null;default:''" json:"company"`
	Industry     string    `gorm:"type:varchar(100);not null;default:''" json:"industry"`
	Location     string    `gorm:"type:varchar(150);not null;default:''" json:"location"`
	Status       string    `gorm:"type:varchar(30);not null;default:'new'" json:"status"`
	Notes        string    `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
