package models

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserProfile is the local view of an identity-provider user.
// StarterGrantClaimed caches "a SignupGrant row exists"; the grant table stays
// authoritative and readers treat either signal as claimed.
type UserProfile struct {
	UserID              string    `gorm:"primaryKey;type:varchar(64)" json:"user_id" validate:"required,max=64"`
	Email               string    `gorm:"type:varchar(200);not null;default:''" json:"email" validate:"omitempty,email,max=200"`
	StarterGrantClaimed bool      `gorm:"not null;default:false;index" json:"starter_grant_claimed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (p *UserProfile) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// GetOrCreateUserProfile returns the profile for userID, creating it on first
// sight. Concurrent first requests are tolerated.
func GetOrCreateUserProfile(db *gorm.DB, userID, email string) (*UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	var p UserProfile
	err := db.Where("user_id = ?", userID).First(&p).Error
	if err == nil {
		if email != "" && p.Email == "" {
			p.Email = strings.TrimSpace(email)
			if err := db.Model(&p).Update("email", p.Email).Error; err != nil {
				return nil, err
			}
		}
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	p = UserProfile{UserID: userID, Email: strings.TrimSpace(email)}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return nil, err
	}
	if err := db.Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkStarterGrantClaimed sets the cached flag, creating the profile row if
// it is missing.
func MarkStarterGrantClaimed(db *gorm.DB, userID string) error {
	p := UserProfile{UserID: userID, StarterGrantClaimed: true}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"starter_grant_claimed", "updated_at"}),
	}).Create(&p).Error
}
