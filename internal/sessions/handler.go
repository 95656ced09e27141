package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/auction"
	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/internal/presence"
	"github.com/bidstream/backend/internal/realtime"
	"github.com/bidstream/backend/pkg/response"
)

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

// Handler manages the session lifecycle endpoints.
type Handler struct {
	repo      *Repository
	engine    *auction.Engine
	countdown *auction.Controller
	tracker   *presence.Tracker
	hub       *realtime.Hub
	logger    *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, engine *auction.Engine, countdown *auction.Controller, tracker *presence.Tracker, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, engine: engine, countdown: countdown, tracker: tracker, hub: hub, logger: logger}
}

// Create handles POST /sessions (seller).
func (h *Handler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, err := h.repo.Create(c.Request.Context(), sellerID, req.Title, req.Description, req.ScheduledAt)
	if err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, session)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	session, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to fetch session")
		return
	}
	response.OK(c, session)
}

// ListMine handles GET /sessions (seller's own sessions).
func (h *Handler) ListMine(c *gin.Context) {
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListBySeller(c.Request.Context(), sellerID)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// GoLive handles POST /sessions/:id/live (seller).
func (h *Handler) GoLive(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	changed, err := h.repo.MarkLive(c.Request.Context(), session.ID)
	if err != nil {
		h.logger.Error("mark session live", zap.Error(err))
		response.Internal(c, "failed to start session")
		return
	}
	if !changed {
		response.Conflict(c, "session is not in scheduled status")
		return
	}

	session, err = h.repo.GetByID(c.Request.Context(), session.ID)
	if err != nil {
		response.Internal(c, "failed to fetch session")
		return
	}
	response.OK(c, session)
}

// End handles POST /sessions/:id/end (seller). The active lot, if any, is
// finalized before the session status changes, so its outcome is settled by
// the regular finalize path rather than dropped.
func (h *Handler) End(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if id := h.settleLotID(ctx, session); id != nil {
		lotID := *id
		if err := h.countdown.Stop(lotID); err != nil && !errors.Is(err, auction.ErrNoCountdown) {
			h.logger.Warn("stop countdown on session end", zap.String("lot_id", lotID.String()), zap.Error(err))
		}
		if _, err := h.engine.Finalize(ctx, lotID); err != nil && !errors.Is(err, auction.ErrAlreadyFinalized) {
			h.logger.Error("finalize lot on session end", zap.String("lot_id", lotID.String()), zap.Error(err))
			response.Internal(c, "failed to settle active lot")
			return
		}
	}

	changed, err := h.repo.MarkEnded(ctx, session.ID)
	if err != nil {
		h.logger.Error("mark session ended", zap.Error(err))
		response.Internal(c, "failed to end session")
		return
	}
	if !changed {
		response.Conflict(c, "session is not live")
		return
	}

	if err := h.tracker.CleanupSession(ctx, session.ID); err != nil {
		h.logger.Warn("cleanup presence on session end", zap.Error(err))
	}
	h.hub.BroadcastToSessionAndPublish(session.ID, realtime.EventSessionEnded, map[string]interface{}{
		"session_id": session.ID,
	})

	session, err = h.repo.GetByID(ctx, session.ID)
	if err != nil {
		response.Internal(c, "failed to fetch session")
		return
	}
	response.OK(c, session)
}

// settleLotID resolves the lot End must settle: the session's current_lot_id
// mirror when set, otherwise the store's view of the active lot. The mirror
// write is best-effort, so it can lag behind an activation.
func (h *Handler) settleLotID(ctx context.Context, session *models.LiveSession) *uuid.UUID {
	if session.CurrentLotID != nil {
		return session.CurrentLotID
	}
	lot, err := h.engine.ActiveLot(ctx, session.ID)
	if err != nil {
		h.logger.Warn("resolve active lot on session end", zap.String("session_id", session.ID.String()), zap.Error(err))
		return nil
	}
	if lot == nil {
		return nil
	}
	return &lot.ID
}

// ownedSession loads the path session and verifies the caller owns it.
func (h *Handler) ownedSession(c *gin.Context) (*models.LiveSession, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	session, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "session not found")
			return nil, false
		}
		response.Internal(c, "failed to fetch session")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if session.SellerID != userID && role != string(models.RoleAdmin) {
		response.Forbidden(c, "not the session owner")
		return nil, false
	}
	return session, true
}
