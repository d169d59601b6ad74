package deals

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDealID indicates that a deal identifier is empty or exceeds storage bounds.
	ErrInvalidDealID = errors.New("deals: invalid deal id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("deals: invalid user id")
	// ErrInvalidDeal indicates that a submitted deal payload is not storable.
	ErrInvalidDeal = errors.New("deals: invalid deal")
	// ErrDealNotFound indicates the referenced deal does not exist.
	ErrDealNotFound = errors.New("deals: deal not found")
)

// Deal models a published discount offer with its vote aggregates.
//
// The likes/dislikes counters mirror the vote membership rows and are only
// ever written together with them inside a single transaction.
type Deal struct {
	DealID        string          `gorm:"column:deal_id;primaryKey;size:190;not null"`
	Name          string          `gorm:"column:name;size:320;not null"`
	Description   string          `gorm:"column:description;type:text"`
	ImageURL      string          `gorm:"column:image_url;size:512"`
	CurrentPrice  decimal.Decimal `gorm:"column:current_price;type:numeric;not null"`
	OriginalPrice decimal.Decimal `gorm:"column:original_price;type:numeric;not null"`
	Category      string          `gorm:"column:category;size:120;index"`
	ExternalURL   string          `gorm:"column:external_url;size:512"`
	CreatorUserID string          `gorm:"column:creator_user_id;size:190;not null;index"`
	Likes         int64           `gorm:"column:likes;not null;default:0"`
	Dislikes      int64           `gorm:"column:dislikes;not null;default:0"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Deal) TableName() string {
	return "deals"
}

// Vote records one user's like or dislike membership for a deal.
type Vote struct {
	DealID    string    `gorm:"column:deal_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	IsLike    bool      `gorm:"column:is_like;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "deal_votes"
}

// Comment captures a user remark on a deal.
type Comment struct {
	CommentID string    `gorm:"column:comment_id;primaryKey;size:190;not null"`
	DealID    string    `gorm:"column:deal_id;size:190;not null;index"`
	UserID    string    `gorm:"column:user_id;size:190;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "deal_comments"
}

// PublishInput describes a deal submission.
type PublishInput struct {
	Name          string
	Description   string
	ImageURL      string
	CurrentPrice  decimal.Decimal
	OriginalPrice decimal.Decimal
	Category      string
	ExternalURL   string
	CreatorUserID string
}

func (in PublishInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidDeal)
	}
	if in.CurrentPrice.IsNegative() || in.OriginalPrice.IsNegative() {
		return fmt.Errorf("%w: prices must be non-negative", ErrInvalidDeal)
	}
	return validateUserID(in.CreatorUserID)
}

func validateDealID(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDealID)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidDealID, maxIdentifierLength)
	}
	return nil
}

func validateUserID(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return nil
}
