package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/everdeals/backend/internal/deals"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for newly created alerts.
type IDProvider interface {
	NewID() (string, error)
}

// MatcherConfig bundles the dependencies for alert management and matching.
type MatcherConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Matcher manages keyword alerts and materializes matches for published deals.
type Matcher struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewMatcher validates configuration and constructs the matcher.
func NewMatcher(cfg MatcherConfig) (*Matcher, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("alerts: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("alerts: %w", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Matcher{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a new active alert for the user.
func (m *Matcher) Create(ctx context.Context, userID, keyword string) (Alert, error) {
	if strings.TrimSpace(userID) == "" {
		return Alert{}, fmt.Errorf("alerts: %w", errMissingUserID)
	}
	trimmed := strings.TrimSpace(keyword)
	if trimmed == "" {
		return Alert{}, fmt.Errorf("%w: empty", ErrInvalidKeyword)
	}

	alertID, err := m.idProvider.NewID()
	if err != nil {
		return Alert{}, fmt.Errorf("alerts: id generation failed: %w", err)
	}

	alert := Alert{
		AlertID:   alertID,
		UserID:    userID,
		Keyword:   trimmed,
		IsActive:  true,
		CreatedAt: m.clock().UTC(),
	}
	if err := m.db.WithContext(ctx).Create(&alert).Error; err != nil {
		m.logger.Error("alert insert failed", zap.Error(err), zap.String("user_id", userID))
		return Alert{}, fmt.Errorf("alerts: insert failed: %w", err)
	}
	return alert, nil
}

// List returns the user's alerts, newest first.
// Store failures degrade to an empty result.
func (m *Matcher) List(ctx context.Context, userID string) []Alert {
	var results []Alert
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		m.logger.Error("alert query failed", zap.Error(err), zap.String("user_id", userID))
		return []Alert{}
	}
	return results
}

// Deactivate excludes an alert from future scans without removing history.
func (m *Matcher) Deactivate(ctx context.Context, userID, alertID string) error {
	result := m.db.WithContext(ctx).
		Model(&Alert{}).
		Where("alert_id = ? AND user_id = ?", alertID, userID).
		Update("is_active", false)
	if result.Error != nil {
		m.logger.Error("alert deactivate failed", zap.Error(result.Error), zap.String("alert_id", alertID))
		return fmt.Errorf("alerts: deactivate failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Delete removes an alert record entirely.
func (m *Matcher) Delete(ctx context.Context, userID, alertID string) error {
	result := m.db.WithContext(ctx).
		Where("alert_id = ? AND user_id = ?", alertID, userID).
		Delete(&Alert{})
	if result.Error != nil {
		m.logger.Error("alert delete failed", zap.Error(result.Error), zap.String("alert_id", alertID))
		return fmt.Errorf("alerts: delete failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// OnDealPublished scans all active alerts against the deal and upserts a
// match record per hit. Per-alert failures are logged and skipped; partial
// success is the designed behavior, so no error is returned.
func (m *Matcher) OnDealPublished(ctx context.Context, deal deals.Deal) {
	var active []Alert
	err := m.db.WithContext(ctx).Where("is_active = ?", true).Find(&active).Error
	if err != nil {
		m.logger.Error("alert scan query failed", zap.Error(err), zap.String("deal_id", deal.DealID))
		return
	}

	name := strings.ToLower(deal.Name)
	description := strings.ToLower(deal.Description)

	for _, alert := range active {
		keyword := strings.ToLower(strings.TrimSpace(alert.Keyword))
		if keyword == "" {
			continue
		}
		if !strings.Contains(name, keyword) && !strings.Contains(description, keyword) {
			continue
		}

		match := Match{
			MatchID:   matchKey(alert.UserID, deal.DealID),
			AlertID:   alert.AlertID,
			DealID:    deal.DealID,
			UserID:    alert.UserID,
			Keyword:   alert.Keyword,
			IsRead:    false,
			CreatedAt: m.clock().UTC(),
		}
		err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			UpdateAll: true,
		}).Create(&match).Error
		if err != nil {
			m.logger.Warn("match upsert failed, continuing scan",
				zap.Error(err),
				zap.String("alert_id", alert.AlertID),
				zap.String("deal_id", deal.DealID))
		}
	}
}

// ListMatches returns the user's match records, newest first.
// Store failures degrade to an empty result.
func (m *Matcher) ListMatches(ctx context.Context, userID string) []Match {
	var results []Match
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		m.logger.Error("match query failed", zap.Error(err), zap.String("user_id", userID))
		return []Match{}
	}
	return results
}

// MarkMatchRead flags a match record as seen by its owner.
func (m *Matcher) MarkMatchRead(ctx context.Context, userID, matchID string) error {
	result := m.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND user_id = ?", matchID, userID).
		Update("is_read", true)
	if result.Error != nil {
		m.logger.Error("match update failed", zap.Error(result.Error), zap.String("match_id", matchID))
		return fmt.Errorf("alerts: mark read failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMatchNotFound
	}
	return nil
}

func matchKey(userID, dealID string) string {
	return userID + "_" + dealID
}
