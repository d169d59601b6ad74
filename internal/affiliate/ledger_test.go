package affiliate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func TestRecordClickCreatesAndIncrements(t *testing.T) {
	ledger, db := newTestLedger(t, nil)
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1", Name: "Sony Headphones"}

	for i := 0; i < 3; i++ {
		if err := ledger.RecordClick(context.Background(), ref); err != nil {
			t.Fatalf("click %d failed: %v", i, err)
		}
	}

	var stats Stats
	if err := db.First(&stats).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if stats.Clicks != 3 {
		t.Fatalf("expected 3 clicks, got %d", stats.Clicks)
	}
	if stats.Sales != 0 {
		t.Fatalf("clicks must not touch sales, got %d", stats.Sales)
	}
	if stats.DealName != "Sony Headphones" {
		t.Fatalf("expected denormalized deal name, got %q", stats.DealName)
	}
}

func TestRecordSaleAppliesCommissionRate(t *testing.T) {
	ledger, db := newTestLedger(t, nil)
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	if err := ledger.RecordSale(context.Background(), ref, decimal.NewFromFloat(100.0)); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	var stats Stats
	if err := db.First(&stats).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if stats.Sales != 1 {
		t.Fatalf("expected 1 sale, got %d", stats.Sales)
	}
	if !stats.Earnings.Equal(decimal.NewFromFloat(2.0)) {
		t.Fatalf("expected earnings 2.0 at 2%% commission, got %s", stats.Earnings)
	}

	balance, err := ledger.StoredBalance(context.Background(), "creator-1")
	if err != nil {
		t.Fatalf("failed to load balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromFloat(2.0)) {
		t.Fatalf("expected balance credited with commission, got %s", balance)
	}
}

func TestRecordSaleAccumulatesWithoutDrift(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	for i := 0; i < 10; i++ {
		if err := ledger.RecordSale(context.Background(), ref, decimal.NewFromFloat(0.10)); err != nil {
			t.Fatalf("sale %d failed: %v", i, err)
		}
	}

	available, err := ledger.AvailableBalance(context.Background(), "creator-1")
	if err != nil {
		t.Fatalf("failed to derive balance: %v", err)
	}
	// 10 × 0.10 × 0.02 = 0.02 exactly under decimal arithmetic.
	if !available.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("expected exact 0.02 accumulation, got %s", available)
	}
}

func TestRecordSaleRejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	err := ledger.RecordSale(context.Background(), ref, decimal.Zero)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRequestWithdrawalGatesOnDerivedBalance(t *testing.T) {
	ledger, _ := newTestLedger(t, []string{"withdrawal-1", "withdrawal-2"})
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	// 2500.0 × 0.02 = 50.0 of earnings.
	if err := ledger.RecordSale(context.Background(), ref, decimal.NewFromFloat(2500.0)); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	_, err := ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(60.0), "creator@example.com")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for 60 against 50, got %v", err)
	}

	withdrawal, err := ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(40.0), "creator@example.com")
	if err != nil {
		t.Fatalf("expected withdrawal to succeed: %v", err)
	}
	if withdrawal.Status != WithdrawalStatusPending {
		t.Fatalf("expected PENDING status, got %s", withdrawal.Status)
	}
	if withdrawal.WithdrawalID != "withdrawal-1" {
		t.Fatalf("unexpected withdrawal id %s", withdrawal.WithdrawalID)
	}

	// A pending request does not reduce availability; only completion does.
	available, err := ledger.AvailableBalance(context.Background(), "creator-1")
	if err != nil {
		t.Fatalf("failed to derive balance: %v", err)
	}
	if !available.Equal(decimal.NewFromFloat(50.0)) {
		t.Fatalf("pending withdrawal should not debit, got %s", available)
	}
}

func TestCompletedWithdrawalsReduceAvailability(t *testing.T) {
	ledger, _ := newTestLedger(t, []string{"withdrawal-1", "withdrawal-2"})
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	if err := ledger.RecordSale(context.Background(), ref, decimal.NewFromFloat(2500.0)); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	withdrawal, err := ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(40.0), "creator@example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := ledger.SettleWithdrawal(context.Background(), withdrawal.WithdrawalID, true); err != nil {
		t.Fatalf("settlement failed: %v", err)
	}

	available, err := ledger.AvailableBalance(context.Background(), "creator-1")
	if err != nil {
		t.Fatalf("failed to derive balance: %v", err)
	}
	if !available.Equal(decimal.NewFromFloat(10.0)) {
		t.Fatalf("expected 10 available after completing 40 of 50, got %s", available)
	}

	_, err = ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(20.0), "creator@example.com")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance after completion, got %v", err)
	}

	balance, err := ledger.StoredBalance(context.Background(), "creator-1")
	if err != nil {
		t.Fatalf("failed to load stored balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromFloat(10.0)) {
		t.Fatalf("completion should debit stored balance to 10, got %s", balance)
	}
}

func TestSettleWithdrawalTerminalStatesAreImmutable(t *testing.T) {
	ledger, _ := newTestLedger(t, []string{"withdrawal-1"})
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	if err := ledger.RecordSale(context.Background(), ref, decimal.NewFromFloat(2500.0)); err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	withdrawal, err := ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(10.0), "creator@example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	settled, err := ledger.SettleWithdrawal(context.Background(), withdrawal.WithdrawalID, false)
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if settled.Status != WithdrawalStatusFailed {
		t.Fatalf("expected FAILED status, got %s", settled.Status)
	}

	if _, err := ledger.SettleWithdrawal(context.Background(), withdrawal.WithdrawalID, true); !errors.Is(err, ErrWithdrawalSettled) {
		t.Fatalf("expected ErrWithdrawalSettled, got %v", err)
	}

	// A failed withdrawal never debits.
	available, err := ledger.AvailableBalance(context.Background(), "creator-1")
	if err != nil {
		t.Fatalf("failed to derive balance: %v", err)
	}
	if !available.Equal(decimal.NewFromFloat(50.0)) {
		t.Fatalf("failed settlement should leave availability untouched, got %s", available)
	}
}

func TestSettleWithdrawalMissingRecord(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)

	_, err := ledger.SettleWithdrawal(context.Background(), "absent", true)
	if !errors.Is(err, ErrWithdrawalNotFound) {
		t.Fatalf("expected ErrWithdrawalNotFound, got %v", err)
	}
}

func TestListWithdrawalsNewestFirst(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	ledger, _ := newTestLedgerWithClock(t, []string{"w-1", "w-2"}, func() time.Time {
		now = now.Add(time.Minute)
		return now
	})
	ref := DealRef{DealID: "deal-1", CreatorUserID: "creator-1"}

	if err := ledger.RecordSale(context.Background(), ref, decimal.NewFromFloat(5000.0)); err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if _, err := ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(10.0), "a@example.com"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := ledger.RequestWithdrawal(context.Background(), "creator-1", decimal.NewFromFloat(20.0), "a@example.com"); err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	withdrawals := ledger.ListWithdrawals(context.Background(), "creator-1")
	if len(withdrawals) != 2 {
		t.Fatalf("expected two withdrawals, got %d", len(withdrawals))
	}
	if withdrawals[0].WithdrawalID != "w-2" {
		t.Fatalf("expected newest first, got %s", withdrawals[0].WithdrawalID)
	}
}

func newTestLedger(t *testing.T, ids []string) (*Ledger, *gorm.DB) {
	t.Helper()
	return newTestLedgerWithClock(t, ids, func() time.Time { return time.Unix(1700000600, 0).UTC() })
}

func newTestLedgerWithClock(t *testing.T, ids []string, clock func() time.Time) (*Ledger, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:everdeals_affiliate_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Stats{}, &Balance{}, &Withdrawal{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ledger, err := NewLedger(LedgerConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}

	return ledger, db
}
