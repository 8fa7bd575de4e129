package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/relay-support-router/datastore"
)

type syncUserRequest struct {
	UserID string `json:"userId" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name"`
}

func (s *Server) syncUser(c *gin.Context) {
	var req syncUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "userId and email are required")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		errorJSON(c, http.StatusBadRequest, "userId and email are required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.deps.Store.UpsertUser(ctx, req.UserID, req.Email, strings.TrimSpace(req.Name))
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to sync user")
		errorJSON(c, http.StatusInternalServerError, "Failed to sync user")
		return
	}

	if s.deps.Tiers != nil {
		if err := s.deps.Tiers.Invalidate(ctx, req.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("failed to invalidate cached tier")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User synced successfully",
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"tier":  user.Tier,
		},
	})
}

func (s *Server) currentUser(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("x-user-id"))
	if userID == "" {
		errorJSON(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.deps.Store.UserByID(c.Request.Context(), userID)
	if errors.Is(err, datastore.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to fetch user")
		errorJSON(c, http.StatusInternalServerError, "Failed to fetch user")
		return
	}
	c.JSON(http.StatusOK, user)
}
