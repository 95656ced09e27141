package presence

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/pkg/response"
)

// Handler exposes viewer join/leave/stats over HTTP.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	viewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	stats, first, err := h.tracker.Join(c.Request.Context(), sessionID, viewerID)
	if err != nil {
		// in-memory counts stay authoritative; the mirror write is retried on the next mutation
		h.logger.Warn("presence store write failed on join", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	response.OK(c, gin.H{"current": stats.Current, "total": stats.Total, "first_join": first})
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	viewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	stats, err := h.tracker.Leave(c.Request.Context(), sessionID, viewerID)
	if err != nil {
		h.logger.Warn("presence store write failed on leave", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	response.OK(c, gin.H{"current": stats.Current, "total": stats.Total})
}

// Stats handles GET /sessions/:id/viewers.
func (h *Handler) Stats(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	response.OK(c, h.tracker.Stats(c.Request.Context(), sessionID))
}
