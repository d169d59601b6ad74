package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/everdeals/backend/internal/deals"
	sqlite "github.com/glebarez/sqlite"
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

func TestOnDealPublishedMatchesSubstringCaseInsensitively(t *testing.T) {
	matcher, _ := newTestMatcher(t, []string{"alert-1", "alert-2"})

	if _, err := matcher.Create(context.Background(), "user-1", "phone"); err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
	if _, err := matcher.Create(context.Background(), "user-2", "xyz123"); err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}

	matcher.OnDealPublished(context.Background(), deals.Deal{
		DealID: "deal-1",
		Name:   "Sony Headphones",
	})

	matches := matcher.ListMatches(context.Background(), "user-1")
	if len(matches) != 1 {
		t.Fatalf("expected one match for substring keyword, got %d", len(matches))
	}
	if matches[0].MatchID != "user-1_deal-1" {
		t.Fatalf("unexpected match key %s", matches[0].MatchID)
	}
	if matches[0].IsRead {
		t.Fatalf("new match should be unread")
	}

	if misses := matcher.ListMatches(context.Background(), "user-2"); len(misses) != 0 {
		t.Fatalf("expected no match for unrelated keyword, got %d", len(misses))
	}
}

func TestOnDealPublishedMatchesDescription(t *testing.T) {
	matcher, _ := newTestMatcher(t, []string{"alert-1"})

	if _, err := matcher.Create(context.Background(), "user-1", "  MECHANICAL  "); err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}

	matcher.OnDealPublished(context.Background(), deals.Deal{
		DealID:      "deal-1",
		Name:        "Keyboard",
		Description: "hot-swappable mechanical switches",
	})

	if matches := matcher.ListMatches(context.Background(), "user-1"); len(matches) != 1 {
		t.Fatalf("expected trimmed keyword to match description, got %d", len(matches))
	}
}

func TestOnDealPublishedOverwritesExistingMatch(t *testing.T) {
	matcher, db := newTestMatcher(t, []string{"alert-1"})

	if _, err := matcher.Create(context.Background(), "user-1", "phone"); err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}

	deal := deals.Deal{DealID: "deal-1", Name: "Sony Headphones"}
	matcher.OnDealPublished(context.Background(), deal)

	if err := matcher.MarkMatchRead(context.Background(), "user-1", "user-1_deal-1"); err != nil {
		t.Fatalf("failed to mark match read: %v", err)
	}

	// Re-publishing the same deal overwrites the record instead of duplicating.
	matcher.OnDealPublished(context.Background(), deal)

	var count int64
	if err := db.Model(&Match{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count matches: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single match record, got %d", count)
	}

	matches := matcher.ListMatches(context.Background(), "user-1")
	if len(matches) != 1 || matches[0].IsRead {
		t.Fatalf("re-match should reset the record to unread, got %#v", matches)
	}
}

func TestOnDealPublishedSkipsInactiveAlerts(t *testing.T) {
	matcher, _ := newTestMatcher(t, []string{"alert-1"})

	alert, err := matcher.Create(context.Background(), "user-1", "phone")
	if err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
	if err := matcher.Deactivate(context.Background(), "user-1", alert.AlertID); err != nil {
		t.Fatalf("failed to deactivate alert: %v", err)
	}

	matcher.OnDealPublished(context.Background(), deals.Deal{DealID: "deal-1", Name: "Sony Headphones"})

	if matches := matcher.ListMatches(context.Background(), "user-1"); len(matches) != 0 {
		t.Fatalf("deactivated alert must not match, got %d", len(matches))
	}
}

func TestCreateRejectsEmptyKeyword(t *testing.T) {
	matcher, _ := newTestMatcher(t, []string{"alert-1"})

	if _, err := matcher.Create(context.Background(), "user-1", "   "); !errors.Is(err, ErrInvalidKeyword) {
		t.Fatalf("expected ErrInvalidKeyword, got %v", err)
	}
}

func TestDeleteRemovesAlert(t *testing.T) {
	matcher, db := newTestMatcher(t, []string{"alert-1"})

	alert, err := matcher.Create(context.Background(), "user-1", "phone")
	if err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
	if err := matcher.Delete(context.Background(), "user-1", alert.AlertID); err != nil {
		t.Fatalf("failed to delete alert: %v", err)
	}

	var count int64
	if err := db.Model(&Alert{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count alerts: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected alert to be removed, found %d", count)
	}

	if err := matcher.Delete(context.Background(), "user-1", alert.AlertID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound on second delete, got %v", err)
	}
}

func TestMarkMatchReadMissingRecord(t *testing.T) {
	matcher, _ := newTestMatcher(t, nil)

	if err := matcher.MarkMatchRead(context.Background(), "user-1", "absent"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

func newTestMatcher(t *testing.T, ids []string) (*Matcher, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:everdeals_alerts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Alert{}, &Match{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	matcher, err := NewMatcher(MatcherConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct matcher: %v", err)
	}

	return matcher, db
}
