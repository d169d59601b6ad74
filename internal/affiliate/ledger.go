package affiliate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// commissionRate is the fraction of each sale credited to the deal creator.
var commissionRate = decimal.NewFromFloat(0.02)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingUserID      = errors.New("user identifier is required")
	errMissingDealRef     = errors.New("deal reference is required")
	errMissingPaypalEmail = errors.New("paypal email is required")
	noOpLogger            = zap.NewNop()
)

const (
	opLedgerNew          = "affiliate.ledger.new"
	opRecordClick        = "affiliate.record_click"
	opRecordSale         = "affiliate.record_sale"
	opCreditBalance      = "affiliate.credit_balance"
	opRequestWithdrawal  = "affiliate.request_withdrawal"
	opSettleWithdrawal   = "affiliate.settle_withdrawal"
	opAvailableBalance   = "affiliate.available_balance"
	opStatsForUser       = "affiliate.stats_for_user"
	opListWithdrawals    = "affiliate.list_withdrawals"
	opStoredBalanceFetch = "affiliate.stored_balance"
)

// LedgerError carries an operation-scoped failure code alongside its cause.
type LedgerError struct {
	code string
	err  error
}

func (e *LedgerError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *LedgerError) Unwrap() error {
	return e.err
}

func (e *LedgerError) Code() string {
	return e.code
}

func newLedgerError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &LedgerError{code: code, err: cause}
}

// IDProvider issues identifiers for withdrawal records.
type IDProvider interface {
	NewID() (string, error)
}

// LedgerConfig bundles the dependencies for the affiliate ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Ledger books clicks, sales, commission earnings and withdrawal requests.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewLedger validates configuration and constructs the affiliate ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newLedgerError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newLedgerError(opLedgerNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Ledger{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RecordClick increments the click counter for the creator's stats record,
// creating it on first sight. Every call counts; deduplicating repeat clicks
// from one viewer is the caller's concern.
func (l *Ledger) RecordClick(ctx context.Context, ref DealRef) error {
	if err := validateDealRef(ref); err != nil {
		return newLedgerError(opRecordClick, "invalid_deal_ref", err)
	}

	row := Stats{
		DealID:        ref.DealID,
		CreatorUserID: ref.CreatorUserID,
		Clicks:        1,
		Earnings:      decimal.Zero,
		DealName:      ref.Name,
		DealImageURL:  ref.ImageURL,
		UpdatedAt:     l.clock().UTC(),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "deal_id"}, {Name: "creator_user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"clicks":     gorm.Expr("clicks + 1"),
			"updated_at": l.clock().UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		l.logError(opRecordClick, "stats_upsert_failed", err,
			zap.String("deal_id", ref.DealID),
			zap.String("creator_user_id", ref.CreatorUserID))
		return newLedgerError(opRecordClick, "stats_upsert_failed", err)
	}
	return nil
}

// RecordSale books one sale: the creator's stats row gains one sale and the
// commission share of the amount, then the creator's stored balance is
// credited. The two writes are separate store operations; a crash between
// them leaves the ledger best-effort consistent, with the stats rows
// remaining the authoritative earnings record.
func (l *Ledger) RecordSale(ctx context.Context, ref DealRef, saleAmount decimal.Decimal) error {
	if err := validateDealRef(ref); err != nil {
		return newLedgerError(opRecordSale, "invalid_deal_ref", err)
	}
	if !saleAmount.IsPositive() {
		return newLedgerError(opRecordSale, "invalid_amount", ErrInvalidAmount)
	}

	commission := saleAmount.Mul(commissionRate)

	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stats Stats
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("deal_id = ? AND creator_user_id = ?", ref.DealID, ref.CreatorUserID).
			Take(&stats).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stats = Stats{
				DealID:        ref.DealID,
				CreatorUserID: ref.CreatorUserID,
				Sales:         1,
				Earnings:      commission,
				DealName:      ref.Name,
				DealImageURL:  ref.ImageURL,
				UpdatedAt:     l.clock().UTC(),
			}
			return tx.Create(&stats).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&Stats{}).
			Where("deal_id = ? AND creator_user_id = ?", ref.DealID, ref.CreatorUserID).
			Updates(map[string]interface{}{
				"sales":      stats.Sales + 1,
				"earnings":   stats.Earnings.Add(commission),
				"updated_at": l.clock().UTC(),
			}).Error
	})
	if txErr != nil {
		l.logError(opRecordSale, "stats_update_failed", txErr,
			zap.String("deal_id", ref.DealID),
			zap.String("creator_user_id", ref.CreatorUserID))
		return newLedgerError(opRecordSale, "stats_update_failed", txErr)
	}

	if err := l.creditBalance(ctx, ref.CreatorUserID, commission); err != nil {
		return err
	}
	return nil
}

// creditBalance adds delta to the user's stored balance, creating the record
// with balance = delta when absent. Negative deltas debit.
func (l *Ledger) creditBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balance Balance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			balance = Balance{
				UserID:    userID,
				Amount:    delta,
				UpdatedAt: l.clock().UTC(),
			}
			return tx.Create(&balance).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&Balance{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"balance":    balance.Amount.Add(delta),
				"updated_at": l.clock().UTC(),
			}).Error
	})
	if txErr != nil {
		l.logError(opCreditBalance, "balance_update_failed", txErr, zap.String("user_id", userID))
		return newLedgerError(opCreditBalance, "balance_update_failed", txErr)
	}
	return nil
}

// RequestWithdrawal creates a PENDING payout request after checking the
// derived available balance: total recorded earnings minus already completed
// withdrawals. Nothing is debited here; availability is recomputed from the
// ledger on every request.
func (l *Ledger) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, paypalEmail string) (Withdrawal, error) {
	if strings.TrimSpace(userID) == "" {
		return Withdrawal{}, newLedgerError(opRequestWithdrawal, "missing_user_id", errMissingUserID)
	}
	if !amount.IsPositive() {
		return Withdrawal{}, newLedgerError(opRequestWithdrawal, "invalid_amount", ErrInvalidAmount)
	}
	if strings.TrimSpace(paypalEmail) == "" {
		return Withdrawal{}, newLedgerError(opRequestWithdrawal, "missing_paypal_email", errMissingPaypalEmail)
	}

	available, err := l.AvailableBalance(ctx, userID)
	if err != nil {
		return Withdrawal{}, err
	}
	if amount.GreaterThan(available) {
		return Withdrawal{}, newLedgerError(opRequestWithdrawal, "insufficient_balance", ErrInsufficientBalance)
	}

	withdrawalID, err := l.idProvider.NewID()
	if err != nil {
		l.logError(opRequestWithdrawal, "id_generation_failed", err, zap.String("user_id", userID))
		return Withdrawal{}, newLedgerError(opRequestWithdrawal, "id_generation_failed", err)
	}

	now := l.clock().UTC()
	withdrawal := Withdrawal{
		WithdrawalID: withdrawalID,
		UserID:       userID,
		Amount:       amount,
		Status:       WithdrawalStatusPending,
		PaypalEmail:  strings.TrimSpace(paypalEmail),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.db.WithContext(ctx).Create(&withdrawal).Error; err != nil {
		l.logError(opRequestWithdrawal, "withdrawal_insert_failed", err, zap.String("user_id", userID))
		return Withdrawal{}, newLedgerError(opRequestWithdrawal, "withdrawal_insert_failed", err)
	}
	return withdrawal, nil
}

// SettleWithdrawal moves a PENDING withdrawal to COMPLETED or FAILED.
// Terminal states are immutable. Completion also debits the stored balance;
// the derived availability view stays authoritative for gating either way.
func (l *Ledger) SettleWithdrawal(ctx context.Context, withdrawalID string, approved bool) (Withdrawal, error) {
	var settled Withdrawal
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var withdrawal Withdrawal
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("withdrawal_id = ?", withdrawalID).
			Take(&withdrawal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newLedgerError(opSettleWithdrawal, "withdrawal_not_found", ErrWithdrawalNotFound)
		}
		if err != nil {
			return newLedgerError(opSettleWithdrawal, "withdrawal_select_failed", err)
		}
		if withdrawal.Status != WithdrawalStatusPending {
			return newLedgerError(opSettleWithdrawal, "already_settled", ErrWithdrawalSettled)
		}

		status := WithdrawalStatusFailed
		if approved {
			status = WithdrawalStatusCompleted
		}
		err = tx.Model(&Withdrawal{}).
			Where("withdrawal_id = ?", withdrawalID).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": l.clock().UTC(),
			}).Error
		if err != nil {
			return newLedgerError(opSettleWithdrawal, "withdrawal_update_failed", err)
		}

		withdrawal.Status = status
		settled = withdrawal
		return nil
	})
	if txErr != nil {
		l.logError(opSettleWithdrawal, "settlement_failed", txErr, zap.String("withdrawal_id", withdrawalID))
		return Withdrawal{}, txErr
	}

	if settled.Status == WithdrawalStatusCompleted {
		if err := l.creditBalance(ctx, settled.UserID, settled.Amount.Neg()); err != nil {
			return Withdrawal{}, err
		}
	}
	return settled, nil
}

// AvailableBalance derives what the user can still withdraw: the sum of all
// recorded earnings minus the sum of completed withdrawal amounts.
func (l *Ledger) AvailableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var statsRows []Stats
	err := l.db.WithContext(ctx).
		Where("creator_user_id = ?", userID).
		Find(&statsRows).Error
	if err != nil {
		l.logError(opAvailableBalance, "stats_query_failed", err, zap.String("user_id", userID))
		return decimal.Zero, newLedgerError(opAvailableBalance, "stats_query_failed", err)
	}

	totalEarnings := decimal.Zero
	for _, row := range statsRows {
		totalEarnings = totalEarnings.Add(row.Earnings)
	}

	var completed []Withdrawal
	err = l.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, WithdrawalStatusCompleted).
		Find(&completed).Error
	if err != nil {
		l.logError(opAvailableBalance, "withdrawals_query_failed", err, zap.String("user_id", userID))
		return decimal.Zero, newLedgerError(opAvailableBalance, "withdrawals_query_failed", err)
	}

	withdrawn := decimal.Zero
	for _, row := range completed {
		withdrawn = withdrawn.Add(row.Amount)
	}

	return totalEarnings.Sub(withdrawn), nil
}

// StoredBalance returns the running balance record, zero when absent.
func (l *Ledger) StoredBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance Balance
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		l.logError(opStoredBalanceFetch, "query_failed", err, zap.String("user_id", userID))
		return decimal.Zero, newLedgerError(opStoredBalanceFetch, "query_failed", err)
	}
	return balance.Amount, nil
}

// StatsForUser returns the creator's per-deal stats records.
// Store failures degrade to an empty result.
func (l *Ledger) StatsForUser(ctx context.Context, userID string) []Stats {
	var results []Stats
	err := l.db.WithContext(ctx).
		Where("creator_user_id = ?", userID).
		Order("updated_at DESC").
		Find(&results).Error
	if err != nil {
		l.logError(opStatsForUser, "query_failed", err, zap.String("user_id", userID))
		return []Stats{}
	}
	return results
}

// ListWithdrawals returns the user's withdrawal requests, newest first.
// Store failures degrade to an empty result.
func (l *Ledger) ListWithdrawals(ctx context.Context, userID string) []Withdrawal {
	var results []Withdrawal
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		l.logError(opListWithdrawals, "query_failed", err, zap.String("user_id", userID))
		return []Withdrawal{}
	}
	return results
}

func validateDealRef(ref DealRef) error {
	if strings.TrimSpace(ref.DealID) == "" || strings.TrimSpace(ref.CreatorUserID) == "" {
		return errMissingDealRef
	}
	return nil
}

func (l *Ledger) loggerOrDefault() *zap.Logger {
	if l == nil || l.logger == nil {
		return noOpLogger
	}
	return l.logger
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.loggerOrDefault().Error("affiliate ledger error", attrs...)
}
