package ranking

import (
	"context"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/internal/presence"
	"github.com/bidstream/backend/pkg/response"
)

// SessionLister returns the sessions eligible for the live feed.
type SessionLister interface {
	ListLive(ctx context.Context) ([]models.LiveSession, error)
}

// BidCounter reports bid activity per session for the feed score.
type BidCounter interface {
	CountBidsBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// GrantBoostRequest is the body for POST /sessions/:id/boost (admin).
type GrantBoostRequest struct {
	Multiplier  float64 `json:"multiplier" binding:"required,gt=1"`
	DurationMin int     `json:"duration_min" binding:"required,gt=0"`
}

// FeedItem is one ranked entry in the live feed.
type FeedItem struct {
	Session models.LiveSession `json:"session"`
	Score   int                `json:"score"`
}

// Handler serves the ranked live feed and boost grants.
type Handler struct {
	sessions SessionLister
	bids     BidCounter
	tracker  *presence.Tracker
	boosts   *BoostRepository
	logger   *zap.Logger
}

// NewHandler creates a ranking handler.
func NewHandler(sessions SessionLister, bids BidCounter, tracker *presence.Tracker, boosts *BoostRepository, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, bids: bids, tracker: tracker, boosts: boosts, logger: logger}
}

// Feed handles GET /feed: live sessions sorted by visibility score,
// recomputed from current inputs on every request.
func (h *Handler) Feed(c *gin.Context) {
	ctx := c.Request.Context()
	live, err := h.sessions.ListLive(ctx)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}

	now := time.Now()
	items := make([]FeedItem, 0, len(live))
	for _, s := range live {
		items = append(items, FeedItem{Session: s, Score: h.scoreSession(ctx, &s, now)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	response.OK(c, items)
}

// GrantBoost handles POST /sessions/:id/boost (admin).
func (h *Handler) GrantBoost(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req GrantBoostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	grantedBy := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	boost, err := h.boosts.Grant(c.Request.Context(), sessionID, grantedBy, req.Multiplier, time.Duration(req.DurationMin)*time.Minute)
	if err != nil {
		h.logger.Error("grant boost", zap.Error(err))
		response.Internal(c, "failed to grant boost")
		return
	}
	response.Created(c, boost)
}

// ScoreSession recomputes one session's score from live inputs. Used by the
// presence change hook to broadcast ranking updates.
func (h *Handler) ScoreSession(ctx context.Context, session *models.LiveSession) int {
	return h.scoreSession(ctx, session, time.Now())
}

func (h *Handler) scoreSession(ctx context.Context, session *models.LiveSession, now time.Time) int {
	stats := h.tracker.Stats(ctx, session.ID)
	bids := 0
	if n, err := h.bids.CountBidsBySession(ctx, session.ID); err == nil {
		bids = n
	}
	createdAt := session.CreatedAt
	if session.StartedAt != nil {
		createdAt = *session.StartedAt
	}
	multiplier, err := h.boosts.ActiveMultiplier(ctx, session.ID)
	if err != nil {
		multiplier = 1
	}
	return Score(Snapshot{
		Kind:      KindLiveSession,
		CreatedAt: createdAt,
		Viewers:   stats.Current,
		Bids:      bids,
	}, multiplier, now)
}
