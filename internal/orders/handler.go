package orders

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/pkg/response"
)

// Handler serves order lookup endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an orders handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// ListMine handles GET /orders: the caller's orders, newest first.
func (h *Handler) ListMine(c *gin.Context) {
	buyerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListByBuyer(c.Request.Context(), buyerID)
	if err != nil {
		h.logger.Error("list orders", zap.Error(err))
		response.Internal(c, "failed to list orders")
		return
	}
	response.OK(c, list)
}

// GetByLot handles GET /lots/:id/order. Only the buyer or an admin may view it.
func (h *Handler) GetByLot(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lot id")
		return
	}
	order, err := h.repo.GetByLotID(c.Request.Context(), lotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "order not found")
			return
		}
		response.Internal(c, "failed to fetch order")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if order.BuyerID != userID && role != string(models.RoleAdmin) {
		response.Forbidden(c, "not the order owner")
		return
	}
	response.OK(c, order)
}
