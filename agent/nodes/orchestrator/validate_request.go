package orchestratornode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

var ErrInvalidQuery = errors.New("query is empty")

type GraphInput struct {
	Query     string
	Context   contractx.RequestContext
	Streaming bool
}

type GraphOutput struct {
	Decision contractx.RoutingDecision
	Response contractx.HandlerResponse
	Stream   contractx.TextStream
	Model    string
	UserTier string
}

type GraphState struct {
	Query     string
	Context   contractx.RequestContext
	Streaming bool
	Now       time.Time

	Decision contractx.RoutingDecision
	Handler  contractx.Handler
	Response contractx.HandlerResponse
	Stream   contractx.TextStream
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	rc := in.Context
	rc.UserID = strings.TrimSpace(rc.UserID)
	rc.ConversationID = strings.TrimSpace(rc.ConversationID)

	return &GraphState{
		Query:     query,
		Context:   rc,
		Streaming: in.Streaming,
		Now:       nowFn().UTC(),
	}, nil
}
