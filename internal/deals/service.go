package deals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyCommentBody  = errors.New("comment body is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation-scoped failure code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "deals.service.new"
	opPublish     = "deals.publish"
	opGetDeal     = "deals.get"
	opListDeals   = "deals.list"
	opSearchDeals = "deals.search"
	opToggleVote  = "deals.toggle_vote"
	opAddComment  = "deals.add_comment"
	opListComment = "deals.list_comments"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly published deals and comments.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for the deal catalog and vote ledger.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service exposes deal publication, browsing and the vote ledger.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs the deals service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Publish validates and stores a new deal submission.
func (s *Service) Publish(ctx context.Context, input PublishInput) (Deal, error) {
	if err := input.validate(); err != nil {
		return Deal{}, newServiceError(opPublish, "invalid_input", err)
	}

	dealID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPublish, "id_generation_failed", err)
		return Deal{}, newServiceError(opPublish, "id_generation_failed", err)
	}

	deal := Deal{
		DealID:        dealID,
		Name:          strings.TrimSpace(input.Name),
		Description:   input.Description,
		ImageURL:      input.ImageURL,
		CurrentPrice:  input.CurrentPrice,
		OriginalPrice: input.OriginalPrice,
		Category:      strings.TrimSpace(input.Category),
		ExternalURL:   input.ExternalURL,
		CreatorUserID: input.CreatorUserID,
		CreatedAt:     s.clock().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&deal).Error; err != nil {
		s.logError(opPublish, "deal_insert_failed", err, zap.String("deal_id", dealID))
		return Deal{}, newServiceError(opPublish, "deal_insert_failed", err)
	}

	return deal, nil
}

// Get returns a single deal by identifier.
func (s *Service) Get(ctx context.Context, dealID string) (Deal, error) {
	if err := validateDealID(dealID); err != nil {
		return Deal{}, newServiceError(opGetDeal, "invalid_deal_id", err)
	}

	var deal Deal
	err := s.db.WithContext(ctx).Where("deal_id = ?", dealID).Take(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Deal{}, newServiceError(opGetDeal, "deal_not_found", ErrDealNotFound)
	}
	if err != nil {
		s.logError(opGetDeal, "deal_select_failed", err, zap.String("deal_id", dealID))
		return Deal{}, newServiceError(opGetDeal, "deal_select_failed", err)
	}
	return deal, nil
}

// List returns deals newest first, optionally filtered by category.
// Store failures degrade to an empty result.
func (s *Service) List(ctx context.Context, category string) []Deal {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if trimmed := strings.TrimSpace(category); trimmed != "" {
		query = query.Where("category = ?", trimmed)
	}

	var results []Deal
	if err := query.Find(&results).Error; err != nil {
		s.logError(opListDeals, "query_failed", err, zap.String("category", category))
		return []Deal{}
	}
	return results
}

// Search returns deals whose name or description contains the query,
// case-insensitively, newest first. Store failures degrade to an empty result.
func (s *Service) Search(ctx context.Context, query string) []Deal {
	needle := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	var results []Deal
	err := s.db.WithContext(ctx).
		Where("lower(name) LIKE ? OR lower(description) LIKE ?", needle, needle).
		Order("created_at DESC").
		Find(&results).Error
	if err != nil {
		s.logError(opSearchDeals, "query_failed", err, zap.String("query", query))
		return []Deal{}
	}
	return results
}

// AddComment stores a user remark on an existing deal.
func (s *Service) AddComment(ctx context.Context, dealID, userID, body string) (Comment, error) {
	if err := validateDealID(dealID); err != nil {
		return Comment{}, newServiceError(opAddComment, "invalid_deal_id", err)
	}
	if err := validateUserID(userID); err != nil {
		return Comment{}, newServiceError(opAddComment, "invalid_user_id", err)
	}
	if strings.TrimSpace(body) == "" {
		return Comment{}, newServiceError(opAddComment, "empty_body", errEmptyCommentBody)
	}

	if _, err := s.Get(ctx, dealID); err != nil {
		return Comment{}, err
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err, zap.String("deal_id", dealID))
		return Comment{}, newServiceError(opAddComment, "id_generation_failed", err)
	}

	comment := Comment{
		CommentID: commentID,
		DealID:    dealID,
		UserID:    userID,
		Body:      body,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAddComment, "comment_insert_failed", err, zap.String("deal_id", dealID))
		return Comment{}, newServiceError(opAddComment, "comment_insert_failed", err)
	}
	return comment, nil
}

// ListComments returns the comments for a deal, oldest first.
// Store failures degrade to an empty result.
func (s *Service) ListComments(ctx context.Context, dealID string) []Comment {
	var results []Comment
	err := s.db.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at ASC").
		Find(&results).Error
	if err != nil {
		s.logError(opListComment, "query_failed", err, zap.String("deal_id", dealID))
		return []Comment{}
	}
	return results
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("deals service error", attrs...)
}
