package affiliate

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus enumerates the lifecycle states of a payout request.
type WithdrawalStatus string

const (
	// WithdrawalStatusPending marks a request awaiting settlement.
	WithdrawalStatusPending WithdrawalStatus = "PENDING"
	// WithdrawalStatusCompleted marks a paid-out request.
	WithdrawalStatusCompleted WithdrawalStatus = "COMPLETED"
	// WithdrawalStatusFailed marks a rejected request.
	WithdrawalStatusFailed WithdrawalStatus = "FAILED"
)

var (
	// ErrInvalidAmount indicates a non-positive monetary amount.
	ErrInvalidAmount = errors.New("affiliate: amount must be positive")
	// ErrInsufficientBalance indicates a withdrawal exceeding the available balance.
	ErrInsufficientBalance = errors.New("affiliate: insufficient balance")
	// ErrWithdrawalNotFound indicates the referenced withdrawal does not exist.
	ErrWithdrawalNotFound = errors.New("affiliate: withdrawal not found")
	// ErrWithdrawalSettled indicates an attempt to re-settle a terminal withdrawal.
	ErrWithdrawalSettled = errors.New("affiliate: withdrawal already settled")
)

// Stats accumulates a creator's click, sale and earnings totals for one deal.
// Created lazily on the first click or sale, never deleted.
type Stats struct {
	DealID        string          `gorm:"column:deal_id;primaryKey;size:190;not null"`
	CreatorUserID string          `gorm:"column:creator_user_id;primaryKey;size:190;not null;index"`
	Clicks        int64           `gorm:"column:clicks;not null;default:0"`
	Sales         int64           `gorm:"column:sales;not null;default:0"`
	Earnings      decimal.Decimal `gorm:"column:earnings;type:numeric;not null"`
	DealName      string          `gorm:"column:deal_name;size:320"`
	DealImageURL  string          `gorm:"column:deal_image_url;size:512"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Stats) TableName() string {
	return "affiliate_stats"
}

// Balance carries a user's accumulated commission credit.
type Balance struct {
	UserID    string          `gorm:"column:user_id;primaryKey;size:190;not null"`
	Amount    decimal.Decimal `gorm:"column:balance;type:numeric;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Balance) TableName() string {
	return "user_balances"
}

// Withdrawal records one payout request and its settlement state.
type Withdrawal struct {
	WithdrawalID string           `gorm:"column:withdrawal_id;primaryKey;size:190;not null"`
	UserID       string           `gorm:"column:user_id;size:190;not null;index"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:numeric;not null"`
	Status       WithdrawalStatus `gorm:"column:status;size:16;not null"`
	PaypalEmail  string           `gorm:"column:paypal_email;size:320;not null"`
	CreatedAt    time.Time        `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Withdrawal) TableName() string {
	return "withdrawals"
}

// DealRef carries the deal fields the ledger denormalizes into stats rows.
type DealRef struct {
	DealID        string
	CreatorUserID string
	Name          string
	ImageURL      string
}
