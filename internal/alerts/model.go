package alerts

import (
	"errors"
	"time"
)

var (
	// ErrInvalidKeyword indicates an empty alert keyword after trimming.
	ErrInvalidKeyword = errors.New("alerts: invalid keyword")
	// ErrAlertNotFound indicates the referenced alert does not exist.
	ErrAlertNotFound = errors.New("alerts: alert not found")
	// ErrMatchNotFound indicates the referenced match record does not exist.
	ErrMatchNotFound = errors.New("alerts: match not found")
)

// Alert is a user's standing keyword subscription. Keywords match deal names
// and descriptions as case-insensitive substrings.
type Alert struct {
	AlertID   string    `gorm:"column:alert_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	Keyword   string    `gorm:"column:keyword;size:190;not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// Match materializes one alert hit for a published deal. The key is
// deterministic per (user, deal), so re-matching overwrites instead of
// duplicating.
type Match struct {
	MatchID   string    `gorm:"column:match_id;primaryKey;size:381;not null"`
	AlertID   string    `gorm:"column:alert_id;size:190;not null"`
	DealID    string    `gorm:"column:deal_id;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	Keyword   string    `gorm:"column:keyword;size:190;not null"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Match) TableName() string {
	return "user_matching_deals"
}
