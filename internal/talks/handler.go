package talks

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/models"
	"github.com/lightningtalk/backend/pkg/response"
)

// Reader loads a talk's rating roll-up.
type Reader interface {
	GetByID(ctx context.Context, id string) (*models.Talk, error)
}

// Handler handles talk HTTP endpoints.
type Handler struct {
	repo   Reader
	logger *zap.Logger
}

// NewHandler creates a talk handler.
func NewHandler(repo Reader, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Get handles GET /api/talks/:talkId.
func (h *Handler) Get(c *gin.Context) {
	talk, err := h.repo.GetByID(c.Request.Context(), c.Param("talkId"))
	if errors.Is(err, ErrTalkNotFound) {
		response.NotFound(c, "talk not found")
		return
	}
	if err != nil {
		h.logger.Error("get talk", zap.String("talk_id", c.Param("talkId")), zap.Error(err))
		response.Internal(c, "failed to load talk")
		return
	}
	response.OK(c, gin.H{"talk": talk})
}
