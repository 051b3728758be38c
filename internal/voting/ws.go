package voting

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/metrics"
	"github.com/lightningtalk/backend/internal/realtime"
)

// Gateway is the part of the realtime gateway the vote message handler needs.
type Gateway interface {
	Broadcaster
	SendToChannel(channelID, event string, data interface{})
	RegisterHandler(msgType string, h realtime.MessageHandler)
}

type wsVote struct {
	SessionID string      `json:"sessionId"`
	Rating    json.Number `json:"rating"`
}

// wholeRating parses an integral rating. Fractions and non-numbers are rejected.
func wholeRating(n json.Number) (int, bool) {
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, false
	}
	return v, true
}

// RegisterRealtime installs the "vote" message handler on gw. Only authenticated channels may vote;
// the voter id is the channel's user id.
func (h *Handler) RegisterRealtime(gw Gateway) {
	gw.RegisterHandler("vote", func(ctx context.Context, ch *realtime.Channel, msg realtime.InboundMessage) error {
		var body wsVote
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &body) != nil || body.SessionID == "" || body.Rating == "" {
			gw.SendToChannel(ch.ID, "vote:error", map[string]string{
				"code":  CodeInvalidRequest,
				"error": "sessionId and rating are required",
			})
			return nil
		}
		if !ch.Authenticated() {
			gw.SendToChannel(ch.ID, "vote:error", map[string]string{
				"code":       realtime.CodeAuthentication,
				"error":      "authentication required to vote",
				"session_id": body.SessionID,
			})
			return nil
		}

		rating, ok := wholeRating(body.Rating)
		if !ok {
			metrics.VotesRejected.WithLabelValues(CodeInvalidRating).Inc()
			gw.SendToChannel(ch.ID, "vote:error", map[string]string{
				"code":       CodeInvalidRating,
				"error":      ErrInvalidRating.Error(),
				"session_id": body.SessionID,
			})
			return nil
		}

		res, err := h.engine.SubmitVote(ctx, body.SessionID, ch.UserID(), rating)
		if err != nil {
			text := err.Error()
			if Retryable(err) {
				text = "internal error"
			}
			gw.SendToChannel(ch.ID, "vote:error", map[string]string{
				"code":       ErrorCode(err),
				"error":      text,
				"session_id": body.SessionID,
			})
			if Retryable(err) {
				h.logger.Warn("websocket vote failed", zap.String("channel_id", ch.ID), zap.Error(err))
			}
			return err
		}
		gw.SendToChannel(ch.ID, "vote:accepted", map[string]interface{}{
			"vote":    res.Vote,
			"results": res.Results,
		})
		h.publishVote(res)
		return nil
	})
}
