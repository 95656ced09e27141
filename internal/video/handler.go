package video

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidstream/backend/config"
	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/internal/sessions"
	"github.com/bidstream/backend/pkg/response"
)

const tokenValidSec = 3600 * 24 // 24 hours

// Handler handles ZEGOCLOUD token endpoints for live session video.
type Handler struct {
	sessionRepo *sessions.Repository
	cfg         config.ZegoConfig
	logger      *zap.Logger
}

// NewHandler creates a video token handler.
func NewHandler(sessionRepo *sessions.Repository, cfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessionRepo: sessionRepo, cfg: cfg, logger: logger}
}

// GetToken handles GET /sessions/:id/video-token?role=seller|audience.
// Returns { token, app_id } for the ZEGOCLOUD SDK. JWT required.
func (h *Handler) GetToken(c *gin.Context) {
	if h.cfg.AppID == 0 || h.cfg.ServerSecret == "" {
		response.ServiceUnavailable(c, "ZEGOCLOUD not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	roleParam := c.Query("role")
	if roleParam == "" {
		roleParam = "audience"
	}
	if roleParam != "seller" && roleParam != "audience" {
		response.BadRequest(c, "role must be seller or audience")
		return
	}
	// Publish token only for the session owner or an admin.
	if roleParam == "seller" {
		session, err := h.sessionRepo.GetByID(c.Request.Context(), sessionID)
		if err != nil {
			response.NotFound(c, "session not found")
			return
		}
		userRole, _ := c.MustGet(middleware.ContextUserRole).(string)
		if session.SellerID != userID && userRole != string(models.RoleAdmin) {
			response.Forbidden(c, "not authorized to stream as seller")
			return
		}
	}

	token, err := GenerateRoomToken(
		h.cfg.AppID,
		h.cfg.ServerSecret,
		sessionID.String(),
		userID.String(),
		roleParam,
		tokenValidSec,
	)
	if err != nil {
		h.logger.Error("zego token generation failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"app_id":  h.cfg.AppID,
	})
}
