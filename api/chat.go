package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	"github.com/tanpawarit/relay-support-router/agent/sanitize"
	"github.com/tanpawarit/relay-support-router/agent/stream"
	"github.com/tanpawarit/relay-support-router/datastore"
)

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId" validate:"required"`
	Message        string `json:"message" validate:"required"`
	Stream         bool   `json:"stream"`
}

type routingView struct {
	AgentType  contractx.HandlerType `json:"agentType"`
	Reasoning  string                `json:"reasoning"`
	Confidence float64               `json:"confidence"`
}

type sendMessageResponse struct {
	ConversationID string                 `json:"conversationId"`
	Message        *datastore.Message     `json:"message"`
	Routing        routingView            `json:"routing"`
	Metadata       orchestratorx.Metadata `json:"metadata"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Validation Error", "details": []fieldError{{Message: err.Error()}}})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if err := s.validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Validation Error", "details": validationDetails(err)})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.deps.Store.EnsureUser(ctx, req.UserID, "", ""); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to ensure user")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := s.deps.Store.CreateConversation(ctx, req.UserID, "")
		if err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create conversation")
			errorJSON(c, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
		conversationID = conv.ID
	}

	entries, err := s.deps.Store.History(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load history")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	history := make([]contractx.HistoryTurn, 0, len(entries))
	for _, e := range entries {
		history = append(history, e.Turn())
	}

	if _, err := s.deps.Store.AddMessage(ctx, datastore.NewMessage{
		ConversationID: conversationID,
		Role:           "user",
		Content:        req.Message,
	}); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to save user message")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	oreq := orchestratorx.Request{
		Query:          req.Message,
		UserID:         req.UserID,
		ConversationID: conversationID,
		History:        history,
	}

	if req.Stream {
		s.streamMessage(c, oreq)
		return
	}

	res := s.deps.Processor.Process(ctx, oreq)

	if _, err := s.deps.Store.AddMessage(ctx, datastore.NewMessage{
		ConversationID: conversationID,
		Role:           "system",
		Content:        res.Routing.Reasoning,
		AgentType:      string(contractx.HandlerRouter),
		Metadata:       map[string]any{"confidence": res.Routing.Confidence},
	}); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to save routing message")
	}

	assistant, err := s.deps.Store.AddMessage(ctx, datastore.NewMessage{
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        res.Response.Content,
		AgentType:      string(res.Routing.HandlerType),
		Reasoning:      res.Response.Reasoning,
		Metadata:       metadataMap(res.Metadata),
	})
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to save assistant message")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, sendMessageResponse{
		ConversationID: conversationID,
		Message:        assistant,
		Routing: routingView{
			AgentType:  res.Routing.HandlerType,
			Reasoning:  res.Routing.Reasoning,
			Confidence: res.Routing.Confidence,
		},
		Metadata: res.Metadata,
	})
}

func (s *Server) streamMessage(c *gin.Context, req orchestratorx.Request) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	complete := func(ctx context.Context, done stream.Completion) (string, error) {
		msg, err := s.deps.Store.AddMessage(ctx, datastore.NewMessage{
			ConversationID: req.ConversationID,
			Role:           "assistant",
			Content:        done.Content,
			AgentType:      string(done.Routing.HandlerType),
			Reasoning:      done.Routing.Reasoning,
			Metadata:       metadataMap(done.Metadata),
		})
		if err != nil {
			return "", err
		}
		return msg.ID, nil
	}

	err := stream.Run(c.Request.Context(), s.deps.Processor, req, stream.NewEncoder(c.Writer), complete)
	if errors.Is(err, stream.ErrConsumerGone) {
		log.Info().Str("conversation_id", req.ConversationID).Msg("stream consumer went away")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("stream failed")
	}
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.deps.Store.Conversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, datastore.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("conversation_id", c.Param("id")).Msg("failed to get conversation")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listConversations(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		errorJSON(c, http.StatusBadRequest, "userId is required")
		return
	}

	convs, err := s.deps.Store.UserConversations(c.Request.Context(), userID, datastore.DefaultConversationLimit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list conversations")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []*datastore.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs, "total": len(convs)})
}

func (s *Server) deleteConversation(c *gin.Context) {
	err := s.deps.Store.DeleteConversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, datastore.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("conversation_id", c.Param("id")).Msg("failed to delete conversation")
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}

func metadataMap(md orchestratorx.Metadata) map[string]any {
	if m, ok := sanitize.Sanitize(md).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func validationDetails(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Message: err.Error()}}
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: fe.Tag()})
	}
	return out
}
