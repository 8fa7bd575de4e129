package contract

import (
	"strings"
	"time"
)

type HandlerType string

const (
	HandlerRouter  HandlerType = "router"
	HandlerSupport HandlerType = "support"
	HandlerOrder   HandlerType = "order"
	HandlerBilling HandlerType = "billing"
)

// RoutableHandlers lists the handler types a query can be dispatched to, in display order.
var RoutableHandlers = []HandlerType{HandlerSupport, HandlerOrder, HandlerBilling}

func (t HandlerType) Routable() bool {
	switch t {
	case HandlerSupport, HandlerOrder, HandlerBilling:
		return true
	default:
		return false
	}
}

// ParseHandlerType normalizes raw text and reports whether it names a routable handler.
func ParseHandlerType(raw string) (HandlerType, bool) {
	t := HandlerType(strings.ToLower(strings.TrimSpace(raw)))
	return t, t.Routable()
}

const DefaultUserTier = "free"

type HistoryTurn struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	HandlerType string    `json:"agentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// RequestContext is built fresh per request and never persisted by the agent layer.
type RequestContext struct {
	UserID              string        `json:"userId"`
	ConversationID      string        `json:"conversationId"`
	ConversationHistory []HistoryTurn `json:"conversationHistory,omitempty"`
	UserTier            string        `json:"userTier,omitempty"`
}

type RoutingDecision struct {
	HandlerType HandlerType `json:"agentType"`
	Reasoning   string      `json:"reasoning"`
	Confidence  float64     `json:"confidence"`
}

type HandlerResponse struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning"`
}

type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Capabilities struct {
	Name        string        `json:"name"`
	Type        HandlerType   `json:"type"`
	Description string        `json:"description"`
	Tools       []ToolSummary `json:"tools"`
}

type HandlerSummary struct {
	Type        HandlerType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
}

// MetricsRecord is write-once; sinks treat it as append-only.
type MetricsRecord struct {
	ID             string    `json:"id"`
	HandlerType    string    `json:"agentType"`
	SessionID      string    `json:"sessionId"`
	Intent         string    `json:"intent"`
	Confidence     float64   `json:"confidence"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	Successful     bool      `json:"successful"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
