package voting

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/middleware"
	"github.com/lightningtalk/backend/internal/realtime"
	"github.com/lightningtalk/backend/pkg/response"
)

// Broadcaster delivers an event to every channel in a room.
type Broadcaster interface {
	BroadcastToRoom(room, event string, data interface{})
}

// CreateRequest is the body for POST /api/voting/sessions.
type CreateRequest struct {
	EventID  string `json:"eventId" binding:"required"`
	TalkID   string `json:"talkId" binding:"required"`
	Duration int    `json:"duration"`
}

// VoteRequest is the body for POST /api/voting/sessions/:sessionId/vote.
type VoteRequest struct {
	Rating        *int   `json:"rating" binding:"required"`
	ParticipantID string `json:"participantId"`
}

// Handler handles voting HTTP endpoints and publishes result changes to event rooms.
type Handler struct {
	engine *Engine
	rooms  Broadcaster
	logger *zap.Logger
}

// NewHandler creates a voting handler.
func NewHandler(engine *Engine, rooms Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, rooms: rooms, logger: logger}
}

// CreateSession handles POST /api/voting/sessions (admin/speaker).
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request: "+err.Error())
		return
	}
	if limits := h.engine.Limits(); !limits.ValidDuration(req.Duration) {
		h.writeError(c, fmt.Errorf("%w: must be between %d and %d seconds", ErrInvalidDuration, limits.MinDuration, limits.MaxDuration))
		return
	}
	createdBy := ""
	if id := middleware.Identity(c); id != nil {
		createdBy = id.UserID
	}

	s, err := h.engine.CreateSession(c.Request.Context(), req.EventID, req.TalkID, req.Duration, createdBy)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.rooms.BroadcastToRoom(realtime.EventRoom(s.EventID), "voting_session_created", gin.H{
		"session_id": s.ID,
		"talk_id":    s.TalkID,
		"duration":   s.Duration,
		"ends_at":    s.EndsAt,
	})
	response.Created(c, gin.H{"session": s})
}

// voterID prefers the verified user, then the client-supplied participant id, then the client IP.
func voterID(c *gin.Context, participantID string) string {
	if id := middleware.Identity(c); id != nil {
		return id.UserID
	}
	if participantID != "" {
		return participantID
	}
	return c.ClientIP()
}

// SubmitVote handles POST /api/voting/sessions/:sessionId/vote.
func (h *Handler) SubmitVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, CodeInvalidRating, "rating must be an integer between 1 and 5")
		return
	}

	res, err := h.engine.SubmitVote(c.Request.Context(), c.Param("sessionId"), voterID(c, req.ParticipantID), *req.Rating)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publishVote(res)
	response.OK(c, gin.H{"vote": res.Vote, "results": res.Results})
}

func (h *Handler) publishVote(res *SubmitResult) {
	h.rooms.BroadcastToRoom(realtime.EventRoom(res.EventID), "vote_submitted", gin.H{
		"session_id": res.Results.SessionID,
		"talk_id":    res.TalkID,
		"results":    res.Results,
	})
}

// GetResults handles GET /api/voting/sessions/:sessionId/results.
func (h *Handler) GetResults(c *gin.Context) {
	results, err := h.engine.GetResults(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"results": results})
}

// ActiveSessions handles GET /api/voting/events/:eventId/sessions.
func (h *Handler) ActiveSessions(c *gin.Context) {
	sessions, err := h.engine.GetActiveSessions(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"sessions": sessions})
}

// EndSession handles POST /api/voting/sessions/:sessionId/end (admin/speaker).
func (h *Handler) EndSession(c *gin.Context) {
	requester := ""
	if id := middleware.Identity(c); id != nil {
		requester = id.UserID
	}
	change, reason, err := h.engine.EndSession(c.Request.Context(), c.Param("sessionId"), requester)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if reason == EndExplicit {
		h.publishEnded(*change)
	}
	response.OK(c, gin.H{"results": change.Results})
}

// SessionEnded is the engine's ended handler for sessions that ran out of time. Explicit ends are
// announced by EndSession, so each transition reaches the room once.
func (h *Handler) SessionEnded(_ context.Context, change ResultChange, reason EndReason) {
	if reason == EndExpired {
		h.publishEnded(change)
	}
}

func (h *Handler) publishEnded(change ResultChange) {
	h.rooms.BroadcastToRoom(realtime.EventRoom(change.EventID), "session_ended", change)
}

// TalkHistory handles GET /api/voting/talks/:talkId/history.
func (h *Handler) TalkHistory(c *gin.Context) {
	history, err := h.engine.GetTalkVotingHistory(c.Request.Context(), c.Param("talkId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"history": history})
}

// VoterStatus handles GET /api/voting/sessions/:sessionId/voters/:voterId.
func (h *Handler) VoterStatus(c *gin.Context) {
	vote, err := h.engine.VoterVote(c.Request.Context(), c.Param("sessionId"), c.Param("voterId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"has_voted": vote != nil, "vote": vote})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code := ErrorCode(err)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, code, err.Error())
	case errors.Is(err, ErrAlreadyVoted):
		response.Error(c, http.StatusConflict, code, err.Error())
	case errors.Is(err, ErrSessionEnded),
		errors.Is(err, ErrInvalidRating),
		errors.Is(err, ErrInvalidVoter),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidRequest):
		response.Error(c, http.StatusBadRequest, code, err.Error())
	default:
		h.logger.Error("voting request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, code, "internal error")
	}
}
