package auction

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidstream/backend/config"
	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/pkg/response"
	"github.com/bidstream/backend/pkg/storage"
)

// SessionGetter resolves session ownership for seller-only operations.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// CreateLotRequest is the body for POST /sessions/:id/lots.
type CreateLotRequest struct {
	Title              string `json:"title" binding:"required"`
	Description        string `json:"description"`
	StartingPriceCents int64  `json:"starting_price_cents" binding:"required,gt=0"`
	BuyNowPriceCents   *int64 `json:"buy_now_price_cents"`
	MinIncrementCents  int64  `json:"min_increment_cents"`
}

// BidRequest is the body for POST /lots/:id/bid.
type BidRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"required,gt=0"`
}

// CountdownStartRequest is the body for POST /lots/:id/countdown/start.
type CountdownStartRequest struct {
	Seconds int `json:"seconds"`
}

// Handler exposes the auction engine over HTTP.
type Handler struct {
	engine      *Engine
	countdown   *Controller
	repo        *Repository
	sessionRepo SessionGetter
	s3          *storage.S3
	cfg         config.AuctionConfig
	logger      *zap.Logger
}

// NewHandler creates the auction handler.
func NewHandler(engine *Engine, countdown *Controller, repo *Repository, sessionRepo SessionGetter, s3 *storage.S3, cfg config.AuctionConfig, logger *zap.Logger) *Handler {
	return &Handler{
		engine:      engine,
		countdown:   countdown,
		repo:        repo,
		sessionRepo: sessionRepo,
		s3:          s3,
		cfg:         cfg,
		logger:      logger,
	}
}

// sellerSession loads the session and checks the caller owns it (or is admin).
func (h *Handler) sellerSession(c *gin.Context, sessionID uuid.UUID) (*models.LiveSession, bool) {
	session, err := h.sessionRepo.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.NotFound(c, "session not found")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if session.SellerID != userID && role != string(models.RoleAdmin) {
		response.Forbidden(c, "not the session seller")
		return nil, false
	}
	return session, true
}

func (h *Handler) sellerSessionForLot(c *gin.Context, lotID uuid.UUID) (*models.Lot, bool) {
	lot, err := h.repo.GetLot(c.Request.Context(), lotID)
	if err != nil {
		response.NotFound(c, "lot not found")
		return nil, false
	}
	if _, ok := h.sellerSession(c, lot.SessionID); !ok {
		return nil, false
	}
	return lot, true
}

// CreateLot handles POST /sessions/:id/lots (seller).
func (h *Handler) CreateLot(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if _, ok := h.sellerSession(c, sessionID); !ok {
		return
	}

	var req CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.BuyNowPriceCents != nil && *req.BuyNowPriceCents <= req.StartingPriceCents {
		response.BadRequest(c, "buy_now_price_cents must exceed starting price")
		return
	}
	if req.MinIncrementCents < 0 {
		response.BadRequest(c, "min_increment_cents must be positive")
		return
	}
	if req.MinIncrementCents == 0 {
		req.MinIncrementCents = h.cfg.MinIncrementCents
	}

	lot := &models.Lot{
		SessionID:          sessionID,
		Title:              req.Title,
		Description:        req.Description,
		StartingPriceCents: req.StartingPriceCents,
		BuyNowPriceCents:   req.BuyNowPriceCents,
		MinIncrementCents:  req.MinIncrementCents,
	}
	if err := h.repo.CreateLot(c.Request.Context(), lot); err != nil {
		h.logger.Error("create lot", zap.Error(err))
		response.Internal(c, "failed to create lot")
		return
	}
	response.Created(c, lot)
}

// ListLots handles GET /sessions/:id/lots.
func (h *Handler) ListLots(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	lots, err := h.repo.ListLotsBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list lots")
		return
	}
	response.OK(c, lots)
}

// GetLot handles GET /lots/:id. Includes the live countdown remaining when running.
func (h *Handler) GetLot(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	lot, err := h.repo.GetLot(c.Request.Context(), lotID)
	if err != nil {
		response.NotFound(c, "lot not found")
		return
	}
	body := gin.H{"lot": lot, "suggested_next_bid": h.engine.SuggestedNextBid(lot)}
	if remaining, ok := h.countdown.Remaining(lotID); ok {
		body["countdown_remaining"] = remaining
	}
	response.OK(c, body)
}

// Activate handles POST /lots/:id/activate (seller).
func (h *Handler) Activate(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	if _, ok := h.sellerSessionForLot(c, lotID); !ok {
		return
	}
	lot, err := h.engine.Activate(c.Request.Context(), lotID)
	if err != nil {
		h.conflict(c, err)
		return
	}
	response.OK(c, lot)
}

// Finalize handles POST /lots/:id/finalize (seller). Explicit hammer-fall.
func (h *Handler) Finalize(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	if _, ok := h.sellerSessionForLot(c, lotID); !ok {
		return
	}
	_ = h.countdown.Stop(lotID)
	lot, err := h.engine.Finalize(c.Request.Context(), lotID)
	if err != nil {
		h.conflict(c, err)
		return
	}
	response.OK(c, lot)
}

// NextLot handles GET /sessions/:id/lots/next (seller): the oldest queued lot.
func (h *Handler) NextLot(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if _, ok := h.sellerSession(c, sessionID); !ok {
		return
	}
	lot, err := h.engine.NextQueued(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to read lot queue")
		return
	}
	response.OK(c, gin.H{"lot": lot})
}

// PlaceBid handles POST /lots/:id/bid.
func (h *Handler) PlaceBid(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	var req BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	bidderID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	bid, err := h.engine.PlaceBid(c.Request.Context(), lotID, bidderID, req.AmountCents)
	if err != nil {
		h.conflict(c, err)
		return
	}
	response.OK(c, gin.H{"bid": bid, "current_price_cents": bid.AmountCents})
}

// BuyNow handles POST /lots/:id/buy-now.
func (h *Handler) BuyNow(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	buyerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	lot, err := h.engine.BuyNow(c.Request.Context(), lotID, buyerID)
	if err != nil {
		h.conflict(c, err)
		return
	}
	response.OK(c, lot)
}

// ListBids handles GET /lots/:id/bids.
func (h *Handler) ListBids(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	bids, err := h.repo.ListBids(c.Request.Context(), lotID)
	if err != nil {
		response.Internal(c, "failed to list bids")
		return
	}
	response.OK(c, bids)
}

// StartCountdown handles POST /lots/:id/countdown/start (seller).
func (h *Handler) StartCountdown(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	lot, ok := h.sellerSessionForLot(c, lotID)
	if !ok {
		return
	}
	if lot.Status != models.LotActive {
		response.Conflict(c, ErrStaleLot.Error())
		return
	}

	var req CountdownStartRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	seconds := req.Seconds
	if seconds <= 0 {
		seconds = h.cfg.DefaultCountdownSec
	}
	if err := h.countdown.Start(lot.SessionID, lotID, seconds); err != nil {
		response.Conflict(c, err.Error())
		return
	}
	response.OK(c, gin.H{"lot_id": lotID, "seconds": seconds})
}

// StopCountdown handles POST /lots/:id/countdown/stop (seller).
func (h *Handler) StopCountdown(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	if _, ok := h.sellerSessionForLot(c, lotID); !ok {
		return
	}
	if err := h.countdown.Stop(lotID); err != nil {
		response.Conflict(c, err.Error())
		return
	}
	response.OK(c, gin.H{"lot_id": lotID})
}

// UploadImage handles POST /lots/:id/image (seller, multipart form field "file").
func (h *Handler) UploadImage(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "object storage not configured")
		return
	}
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	lot, ok := h.sellerSessionForLot(c, lotID)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file field required")
		return
	}
	if fileHeader.Size > storage.MaxLotImageSize {
		response.BadRequest(c, "file too large")
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !storage.ValidateLotImageType(contentType, fileHeader.Filename) {
		response.BadRequest(c, "unsupported image type")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read upload")
		return
	}
	defer f.Close()

	key := storage.LotImageKey(lot.SessionID.String(), lot.ID.String(), fileHeader.Filename)
	url, err := h.s3.Upload(c.Request.Context(), h.s3.LotImagesBucket(), key, contentType, f, fileHeader.Size, true)
	if err != nil {
		h.logger.Error("lot image upload", zap.Error(err), zap.String("lot_id", lotID.String()))
		response.Internal(c, "upload failed")
		return
	}
	if err := h.repo.SetLotImage(c.Request.Context(), lotID, url, key); err != nil {
		response.Internal(c, "failed to save image reference")
		return
	}
	response.OK(c, gin.H{"image_url": url})
}

// ImageURL handles GET /lots/:id/image-url: a presigned download URL.
func (h *Handler) ImageURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "object storage not configured")
		return
	}
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	lot, err := h.repo.GetLot(c.Request.Context(), lotID)
	if err != nil {
		response.NotFound(c, "lot not found")
		return
	}
	if lot.ImageS3Key == "" {
		response.NotFound(c, "lot has no image")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.LotImagesBucket(), lot.ImageS3Key, h.s3.PresignExpire())
	if err != nil {
		response.Internal(c, "failed to presign url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// conflict maps engine sentinels to HTTP status codes.
func (h *Handler) conflict(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrBidTooLow),
		errors.Is(err, ErrStaleLot),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrNoBuyNowPrice),
		errors.Is(err, ErrNotQueued):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("auction operation failed", zap.Error(err))
		response.Internal(c, "operation failed, retry safe")
	}
}
