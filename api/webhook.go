package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

const maxWebhookBody = 64 << 10

// receiveMetrics stores routing metrics delivered by QStash.
func (s *Server) receiveMetrics(c *gin.Context) {
	if s.deps.Verifier == nil {
		errorJSON(c, http.StatusNotFound, "Not Found")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.deps.Verifier.Verify(c.GetHeader("Upstash-Signature"), raw, s.deps.MetricsDestination); err != nil {
		log.Warn().Err(err).Msg("rejected metrics delivery")
		errorJSON(c, http.StatusUnauthorized, "invalid signature")
		return
	}

	var rec contractx.MetricsRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.HandlerType == "" {
		errorJSON(c, http.StatusBadRequest, "invalid metrics record")
		return
	}
	if err := s.deps.Store.AppendMetrics(c.Request.Context(), rec); err != nil {
		log.Error().Err(err).Str("session_id", rec.SessionID).Msg("failed to store delivered metrics")
		// non-2xx makes QStash retry the delivery
		errorJSON(c, http.StatusInternalServerError, "failed to store metrics")
		return
	}
	c.Status(http.StatusNoContent)
}
