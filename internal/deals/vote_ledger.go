package deals

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ToggleVote applies one like/dislike transition for the user on the deal.
//
// It is a toggle, not a one-way vote: repeating the same vote retracts it,
// and voting the opposite way moves the user between the two sets. The
// membership row and both counters are written in the same transaction, so
// likes == |likedBy|, dislikes == |dislikedBy| and the sets stay disjoint
// after every call. Conflicting concurrent writers are serialized by the
// row lock; no retry happens here.
func (s *Service) ToggleVote(ctx context.Context, dealID, userID string, wantLike bool) error {
	if err := validateDealID(dealID); err != nil {
		return newServiceError(opToggleVote, "invalid_deal_id", err)
	}
	if err := validateUserID(userID); err != nil {
		return newServiceError(opToggleVote, "invalid_user_id", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deal Deal
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("deal_id = ?", dealID).
			Take(&deal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opToggleVote, "deal_not_found", ErrDealNotFound)
		}
		if err != nil {
			s.logError(opToggleVote, "deal_select_failed", err,
				zap.String("deal_id", dealID),
				zap.String("user_id", userID))
			return newServiceError(opToggleVote, "deal_select_failed", err)
		}

		var vote Vote
		err = tx.Where("deal_id = ? AND user_id = ?", dealID, userID).Take(&vote).Error
		hasVote := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			hasVote = false
		} else if err != nil {
			s.logError(opToggleVote, "vote_select_failed", err,
				zap.String("deal_id", dealID),
				zap.String("user_id", userID))
			return newServiceError(opToggleVote, "vote_select_failed", err)
		}

		likes, dislikes := deal.Likes, deal.Dislikes

		switch {
		case !hasVote:
			// No membership yet: add to the requested set.
			vote = Vote{DealID: dealID, UserID: userID, IsLike: wantLike, UpdatedAt: s.clock().UTC()}
			if err := tx.Create(&vote).Error; err != nil {
				s.logError(opToggleVote, "vote_insert_failed", err,
					zap.String("deal_id", dealID),
					zap.String("user_id", userID))
				return newServiceError(opToggleVote, "vote_insert_failed", err)
			}
			if wantLike {
				likes++
			} else {
				dislikes++
			}

		case vote.IsLike == wantLike:
			// Same vote again: retract it.
			if err := tx.Where("deal_id = ? AND user_id = ?", dealID, userID).Delete(&Vote{}).Error; err != nil {
				s.logError(opToggleVote, "vote_delete_failed", err,
					zap.String("deal_id", dealID),
					zap.String("user_id", userID))
				return newServiceError(opToggleVote, "vote_delete_failed", err)
			}
			if wantLike {
				likes--
			} else {
				dislikes--
			}

		default:
			// Opposite vote: move between the sets.
			updates := map[string]interface{}{
				"is_like":    wantLike,
				"updated_at": s.clock().UTC(),
			}
			if err := tx.Model(&Vote{}).
				Where("deal_id = ? AND user_id = ?", dealID, userID).
				Updates(updates).Error; err != nil {
				s.logError(opToggleVote, "vote_update_failed", err,
					zap.String("deal_id", dealID),
					zap.String("user_id", userID))
				return newServiceError(opToggleVote, "vote_update_failed", err)
			}
			if wantLike {
				likes++
				dislikes--
			} else {
				likes--
				dislikes++
			}
		}

		err = tx.Model(&Deal{}).
			Where("deal_id = ?", dealID).
			Updates(map[string]interface{}{"likes": likes, "dislikes": dislikes}).Error
		if err != nil {
			s.logError(opToggleVote, "counter_update_failed", err,
				zap.String("deal_id", dealID),
				zap.String("user_id", userID))
			return newServiceError(opToggleVote, "counter_update_failed", err)
		}

		return nil
	})

	return txErr
}
