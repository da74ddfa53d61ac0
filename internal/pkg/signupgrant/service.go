// Package signupgrant hands new users a one-time free slice of the lead pool,
// throttled per hashed client IP.
package signupgrant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/inventory"
	"github.com/ManuelReschke/LeadVault/internal/pkg/iphash"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/metrics/counter"
)

// Reasons a grant was not issued.
const (
	ReasonAlreadyHasLeads = "already_has_leads"
	ReasonAlreadyGranted  = "already_granted"
	ReasonIPRecent        = "ip_recent"
	ReasonNoInventory     = "no_inventory"

	StoppedInsufficientInventory = "insufficient_inventory"
)

var ErrMissingUser = errors.New("user id is required")

type Config struct {
	FreeLeads    int
	IPWindow     time.Duration
	BackfillPage int
}

type Result struct {
	Granted   bool
	LeadCount int
	Reason    string
}

type BackfillResult struct {
	Processed     int    `json:"processed"`
	Granted       int    `json:"granted"`
	Skipped       int    `json:"skipped"`
	StoppedReason string `json:"stoppedReason,omitempty"`
}

type Service struct {
	db       *gorm.DB
	hasher   *iphash.Hasher
	counters counter.Recorder
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(db *gorm.DB, hasher *iphash.Hasher, counters counter.Recorder, cfg Config, log *zap.Logger) *Service {
	if cfg.FreeLeads <= 0 {
		cfg.FreeLeads = 5
	}
	if cfg.BackfillPage <= 0 {
		cfg.BackfillPage = 100
	}
	if hasher == nil {
		hasher = iphash.New("")
	}
	if counters == nil {
		counters = counter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:       db,
		hasher:   hasher,
		counters: counters,
		log:      log.Named("signupgrant"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Grant issues the starter leads to userID unless one of the guards denies
// it. Denials are results, not errors.
func (s *Service) Grant(ctx context.Context, userID, email, clientIP string) (*Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	if _, err := models.GetOrCreateUserProfile(s.db.WithContext(ctx), userID, email); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	res, err := s.grant(ctx, userID, s.hasher.Hash(clientIP), true)
	if err != nil {
		return nil, err
	}

	if res.Granted {
		s.counters.Add(ctx, counter.SignupGranted, 1)
		s.counters.Add(ctx, counter.SignupLeads, int64(res.LeadCount))
		logger.FromContext(ctx, s.log).Info("granted starter leads",
			zap.String("user_id", userID),
			zap.Int("lead_count", res.LeadCount),
		)
	} else {
		s.counters.Add(ctx, counter.SignupDeniedPrefix+res.Reason, 1)
	}
	return res, nil
}

var errAlreadyGranted = errors.New("signup grant already exists")

// grant runs every guard and the allocation in one transaction. checkIP is
// false for the backfill, which has no client address.
func (s *Service) grant(ctx context.Context, userID, ipHash string, checkIP bool) (*Result, error) {
	var res *Result
	err := inventory.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		res = nil
		now := s.now()

		owned, err := inventory.CountOwned(tx, userID)
		if err != nil {
			return err
		}
		if owned > 0 {
			res = denied(ReasonAlreadyHasLeads)
			return nil
		}

		var profile models.UserProfile
		if err := tx.Where("user_id = ?", userID).Limit(1).Find(&profile).Error; err != nil {
			return err
		}

		var grants int64
		if err := tx.Model(&models.SignupGrant{}).Where("user_id = ?", userID).Count(&grants).Error; err != nil {
			return err
		}
		if grants > 0 {
			if !profile.StarterGrantClaimed {
				// The grant row is authoritative; bring the cached flag in line.
				if err := models.MarkStarterGrantClaimed(tx, userID); err != nil {
					return err
				}
			}
			res = denied(ReasonAlreadyGranted)
			return nil
		}
		if profile.StarterGrantClaimed {
			res = denied(ReasonAlreadyGranted)
			return nil
		}

		if checkIP && ipHash != "" && s.cfg.IPWindow > 0 {
			// Locking read: concurrent claims from one address serialize on
			// the ip_hash range.
			var recent int64
			if err := tx.Model(&models.SignupGrant{}).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("ip_hash = ? AND created_at >= ?", ipHash, now.Add(-s.cfg.IPWindow)).
				Count(&recent).Error; err != nil {
				return err
			}
			if recent > 0 {
				res = denied(ReasonIPRecent)
				return nil
			}
		}

		leads, err := inventory.Assign(tx, userID, s.cfg.FreeLeads, now)
		if errors.Is(err, inventory.ErrInsufficientInventory) {
			res = denied(ReasonNoInventory)
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Create(&models.SignupGrant{
			UserID:    userID,
			IPHash:    ipHash,
			LeadCount: len(leads),
			CreatedAt: now,
		}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errAlreadyGranted
			}
			return err
		}
		if err := models.MarkStarterGrantClaimed(tx, userID); err != nil {
			return err
		}

		res = &Result{Granted: true, LeadCount: len(leads)}
		return nil
	})
	if errors.Is(err, errAlreadyGranted) {
		return denied(ReasonAlreadyGranted), nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Backfill grants the starter slice to every known user who has not claimed
// it, in user id order, and halts as soon as the pool cannot cover one more
// full grant.
func (s *Service) Backfill(ctx context.Context) (*BackfillResult, error) {
	out := &BackfillResult{}
	log := logger.FromContext(ctx, s.log)
	cursor := ""

	for {
		var page []models.UserProfile
		err := s.db.WithContext(ctx).
			Where("starter_grant_claimed = ? AND user_id > ?", false, cursor).
			Order("user_id ASC").
			Limit(s.cfg.BackfillPage).
			Find(&page).Error
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, profile := range page {
			cursor = profile.UserID
			out.Processed++

			available, err := inventory.CountAvailable(s.db.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			if available < int64(s.cfg.FreeLeads) {
				out.StoppedReason = StoppedInsufficientInventory
				s.logBackfill(log, out)
				return out, nil
			}

			res, err := s.grant(ctx, profile.UserID, "", false)
			if err != nil {
				return nil, fmt.Errorf("backfill user %s: %w", profile.UserID, err)
			}
			switch {
			case res.Granted:
				out.Granted++
				s.counters.Add(ctx, counter.BackfillGranted, 1)
				s.counters.Add(ctx, counter.BackfillLeads, int64(res.LeadCount))
			case res.Reason == ReasonNoInventory:
				out.StoppedReason = StoppedInsufficientInventory
				s.logBackfill(log, out)
				return out, nil
			default:
				out.Skipped++
			}
		}

		if len(page) < s.cfg.BackfillPage {
			break
		}
	}

	s.logBackfill(log, out)
	return out, nil
}

func (s *Service) logBackfill(log *zap.Logger, out *BackfillResult) {
	log.Info("starter backfill finished",
		zap.Int("processed", out.Processed),
		zap.Int("granted", out.Granted),
		zap.Int("skipped", out.Skipped),
		zap.String("stopped_reason", out.StoppedReason),
	)
}

func denied(reason string) *Result {
	return &Result{Granted: false, Reason: reason}
}
