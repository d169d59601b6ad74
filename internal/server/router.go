package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/everdeals/backend/internal/affiliate"
	"github.com/everdeals/backend/internal/alerts"
	"github.com/everdeals/backend/internal/auth"
	"github.com/everdeals/backend/internal/deals"
	"github.com/everdeals/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const userIDContextKey = "everdeals_user_id"

var (
	errMissingProviderVerifier = errors.New("provider verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingDealsService     = errors.New("deals service dependency required")
	errMissingAffiliateLedger  = errors.New("affiliate ledger dependency required")
	errMissingAlertMatcher     = errors.New("alert matcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// ProviderVerifier validates external identity-provider ID tokens.
type ProviderVerifier interface {
	Verify(ctx context.Context, token string) (auth.ProviderClaims, error)
}

// TokenManager issues and validates EverDeals API tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to its collaborating services.
type Dependencies struct {
	ProviderVerifier ProviderVerifier
	TokenManager     TokenManager
	UsersService     *users.Service
	DealsService     *deals.Service
	AffiliateLedger  *affiliate.Ledger
	AlertMatcher     *alerts.Matcher
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin handler serving the EverDeals API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ProviderVerifier == nil {
		return nil, errMissingProviderVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.DealsService == nil {
		return nil, errMissingDealsService
	}
	if deps.AffiliateLedger == nil {
		return nil, errMissingAffiliateLedger
	}
	if deps.AlertMatcher == nil {
		return nil, errMissingAlertMatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:  deps.ProviderVerifier,
		tokens:    deps.TokenManager,
		users:     deps.UsersService,
		deals:     deps.DealsService,
		affiliate: deps.AffiliateLedger,
		alerts:    deps.AlertMatcher,
		logger:    logger,
	}

	router.POST("/auth/login", handler.handleLogin)
	router.GET("/deals", handler.handleListDeals)
	router.GET("/deals/:id", handler.handleGetDeal)
	router.GET("/deals/:id/comments", handler.handleListComments)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/deals", handler.handlePublishDeal)
	protected.POST("/deals/:id/vote", handler.handleToggleVote)
	protected.POST("/deals/:id/comments", handler.handleAddComment)
	protected.POST("/deals/:id/click", handler.handleRecordClick)
	protected.POST("/deals/:id/sale", handler.handleRecordSale)
	protected.GET("/affiliate/stats", handler.handleAffiliateStats)
	protected.GET("/affiliate/balance", handler.handleAffiliateBalance)
	protected.POST("/withdrawals", handler.handleRequestWithdrawal)
	protected.GET("/withdrawals", handler.handleListWithdrawals)
	protected.POST("/alerts", handler.handleCreateAlert)
	protected.GET("/alerts", handler.handleListAlerts)
	protected.POST("/alerts/:id/deactivate", handler.handleDeactivateAlert)
	protected.DELETE("/alerts/:id", handler.handleDeleteAlert)
	protected.GET("/alerts/matches", handler.handleListMatches)
	protected.POST("/alerts/matches/:id/read", handler.handleMarkMatchRead)

	return router, nil
}

type httpHandler struct {
	verifier  ProviderVerifier
	tokens    TokenManager
	users     *users.Service
	deals     *deals.Service
	affiliate *affiliate.Ledger
	alerts    *alerts.Matcher
	logger    *zap.Logger
}

type loginRequestPayload struct {
	IDToken string `json:"id_token"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("provider token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveUserID(claims)
	if err != nil {
		h.logger.Error("failed to resolve user identity", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue api token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type dealPayload struct {
	DealID        string          `json:"deal_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"image_url"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Category      string          `json:"category"`
	ExternalURL   string          `json:"external_url"`
	CreatorUserID string          `json:"creator_user_id"`
	Likes         int64           `json:"likes"`
	Dislikes      int64           `json:"dislikes"`
	CreatedAt     int64           `json:"created_at_s"`
}

func toDealPayload(deal deals.Deal) dealPayload {
	return dealPayload{
		DealID:        deal.DealID,
		Name:          deal.Name,
		Description:   deal.Description,
		ImageURL:      deal.ImageURL,
		CurrentPrice:  deal.CurrentPrice,
		OriginalPrice: deal.OriginalPrice,
		Category:      deal.Category,
		ExternalURL:   deal.ExternalURL,
		CreatorUserID: deal.CreatorUserID,
		Likes:         deal.Likes,
		Dislikes:      deal.Dislikes,
		CreatedAt:     deal.CreatedAt.Unix(),
	}
}

type publishRequestPayload struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"image_url"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Category      string          `json:"category"`
	ExternalURL   string          `json:"external_url"`
}

func (h *httpHandler) handlePublishDeal(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request publishRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	deal, err := h.deals.Publish(c.Request.Context(), deals.PublishInput{
		Name:          request.Name,
		Description:   request.Description,
		ImageURL:      request.ImageURL,
		CurrentPrice:  request.CurrentPrice,
		OriginalPrice: request.OriginalPrice,
		Category:      request.Category,
		ExternalURL:   request.ExternalURL,
		CreatorUserID: userID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	// Alert matching is fire-and-forget from the publisher's perspective.
	go h.alerts.OnDealPublished(context.Background(), deal)

	c.JSON(http.StatusCreated, toDealPayload(deal))
}

func (h *httpHandler) handleListDeals(c *gin.Context) {
	var results []deals.Deal
	if query := strings.TrimSpace(c.Query("q")); query != "" {
		results = h.deals.Search(c.Request.Context(), query)
	} else {
		results = h.deals.List(c.Request.Context(), c.Query("category"))
	}

	payloads := make([]dealPayload, 0, len(results))
	for _, deal := range results {
		payloads = append(payloads, toDealPayload(deal))
	}
	c.JSON(http.StatusOK, gin.H{"deals": payloads})
}

func (h *httpHandler) handleGetDeal(c *gin.Context) {
	deal, err := h.deals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDealPayload(deal))
}

type voteRequestPayload struct {
	Like *bool `json:"like"`
}

func (h *httpHandler) handleToggleVote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Like == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.deals.ToggleVote(c.Request.Context(), c.Param("id"), userID, *request.Like); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type commentRequestPayload struct {
	Body string `json:"body"`
}

type commentPayload struct {
	CommentID string `json:"comment_id"`
	DealID    string `json:"deal_id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at_s"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.deals.AddComment(c.Request.Context(), c.Param("id"), userID, request.Body)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, commentPayload{
		CommentID: comment.CommentID,
		DealID:    comment.DealID,
		UserID:    comment.UserID,
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt.Unix(),
	})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	comments := h.deals.ListComments(c.Request.Context(), c.Param("id"))
	payloads := make([]commentPayload, 0, len(comments))
	for _, comment := range comments {
		payloads = append(payloads, commentPayload{
			CommentID: comment.CommentID,
			DealID:    comment.DealID,
			UserID:    comment.UserID,
			Body:      comment.Body,
			CreatedAt: comment.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"comments": payloads})
}

func (h *httpHandler) handleRecordClick(c *gin.Context) {
	deal, err := h.deals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	err = h.affiliate.RecordClick(c.Request.Context(), affiliate.DealRef{
		DealID:        deal.DealID,
		CreatorUserID: deal.CreatorUserID,
		Name:          deal.Name,
		ImageURL:      deal.ImageURL,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type saleRequestPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *httpHandler) handleRecordSale(c *gin.Context) {
	var request saleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	deal, err := h.deals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	err = h.affiliate.RecordSale(c.Request.Context(), affiliate.DealRef{
		DealID:        deal.DealID,
		CreatorUserID: deal.CreatorUserID,
		Name:          deal.Name,
		ImageURL:      deal.ImageURL,
	}, request.Amount)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statsPayload struct {
	DealID       string          `json:"deal_id"`
	DealName     string          `json:"deal_name"`
	DealImageURL string          `json:"deal_image_url"`
	Clicks       int64           `json:"clicks"`
	Sales        int64           `json:"sales"`
	Earnings     decimal.Decimal `json:"earnings"`
}

func (h *httpHandler) handleAffiliateStats(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	stats := h.affiliate.StatsForUser(c.Request.Context(), userID)
	payloads := make([]statsPayload, 0, len(stats))
	for _, row := range stats {
		payloads = append(payloads, statsPayload{
			DealID:       row.DealID,
			DealName:     row.DealName,
			DealImageURL: row.DealImageURL,
			Clicks:       row.Clicks,
			Sales:        row.Sales,
			Earnings:     row.Earnings,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stats": payloads})
}

func (h *httpHandler) handleAffiliateBalance(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	available, err := h.affiliate.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	stored, err := h.affiliate.StoredBalance(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available_balance": available,
		"balance":           stored,
	})
}

type withdrawalRequestPayload struct {
	Amount      decimal.Decimal `json:"amount"`
	PaypalEmail string          `json:"paypal_email"`
}

type withdrawalPayload struct {
	WithdrawalID string          `json:"withdrawal_id"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	PaypalEmail  string          `json:"paypal_email"`
	CreatedAt    int64           `json:"created_at_s"`
	UpdatedAt    int64           `json:"updated_at_s"`
}

func toWithdrawalPayload(withdrawal affiliate.Withdrawal) withdrawalPayload {
	return withdrawalPayload{
		WithdrawalID: withdrawal.WithdrawalID,
		Amount:       withdrawal.Amount,
		Status:       string(withdrawal.Status),
		PaypalEmail:  withdrawal.PaypalEmail,
		CreatedAt:    withdrawal.CreatedAt.Unix(),
		UpdatedAt:    withdrawal.UpdatedAt.Unix(),
	}
}

func (h *httpHandler) handleRequestWithdrawal(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request withdrawalRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	withdrawal, err := h.affiliate.RequestWithdrawal(c.Request.Context(), userID, request.Amount, request.PaypalEmail)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toWithdrawalPayload(withdrawal))
}

func (h *httpHandler) handleListWithdrawals(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	withdrawals := h.affiliate.ListWithdrawals(c.Request.Context(), userID)
	payloads := make([]withdrawalPayload, 0, len(withdrawals))
	for _, withdrawal := range withdrawals {
		payloads = append(payloads, toWithdrawalPayload(withdrawal))
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": payloads})
}

type alertRequestPayload struct {
	Keyword string `json:"keyword"`
}

type alertPayload struct {
	AlertID   string `json:"alert_id"`
	Keyword   string `json:"keyword"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at_s"`
}

func (h *httpHandler) handleCreateAlert(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request alertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	alert, err := h.alerts.Create(c.Request.Context(), userID, request.Keyword)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, alertPayload{
		AlertID:   alert.AlertID,
		Keyword:   alert.Keyword,
		IsActive:  alert.IsActive,
		CreatedAt: alert.CreatedAt.Unix(),
	})
}

func (h *httpHandler) handleListAlerts(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	results := h.alerts.List(c.Request.Context(), userID)
	payloads := make([]alertPayload, 0, len(results))
	for _, alert := range results {
		payloads = append(payloads, alertPayload{
			AlertID:   alert.AlertID,
			Keyword:   alert.Keyword,
			IsActive:  alert.IsActive,
			CreatedAt: alert.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": payloads})
}

func (h *httpHandler) handleDeactivateAlert(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	if err := h.alerts.Deactivate(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteAlert(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	if err := h.alerts.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type matchPayload struct {
	MatchID   string `json:"match_id"`
	AlertID   string `json:"alert_id"`
	DealID    string `json:"deal_id"`
	Keyword   string `json:"keyword"`
	IsRead    bool   `json:"is_read"`
	CreatedAt int64  `json:"created_at_s"`
}

func (h *httpHandler) handleListMatches(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	results := h.alerts.ListMatches(c.Request.Context(), userID)
	payloads := make([]matchPayload, 0, len(results))
	for _, match := range results {
		payloads = append(payloads, matchPayload{
			MatchID:   match.MatchID,
			AlertID:   match.AlertID,
			DealID:    match.DealID,
			Keyword:   match.Keyword,
			IsRead:    match.IsRead,
			CreatedAt: match.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"matches": payloads})
}

func (h *httpHandler) handleMarkMatchRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	if err := h.alerts.MarkMatchRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// respondServiceError maps domain failures onto HTTP statuses.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, deals.ErrDealNotFound),
		errors.Is(err, affiliate.ErrWithdrawalNotFound),
		errors.Is(err, alerts.ErrAlertNotFound),
		errors.Is(err, alerts.ErrMatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, affiliate.ErrInsufficientBalance):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_balance"})
	case errors.Is(err, deals.ErrInvalidDeal),
		errors.Is(err, deals.ErrInvalidDealID),
		errors.Is(err, deals.ErrInvalidUserID),
		errors.Is(err, affiliate.ErrInvalidAmount),
		errors.Is(err, alerts.ErrInvalidKeyword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, affiliate.ErrWithdrawalSettled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_settled"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
