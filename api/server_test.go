package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	"github.com/tanpawarit/relay-support-router/agent/stream"
	"github.com/tanpawarit/relay-support-router/datastore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	requests []orchestratorx.Request
	chunks   []string
}

func (f *fakeProcessor) Process(_ context.Context, req orchestratorx.Request) orchestratorx.Result {
	f.requests = append(f.requests, req)
	res := orchestratorx.Result{
		Routing: contractx.RoutingDecision{
			HandlerType: contractx.HandlerOrder,
			Reasoning:   "Routing to Order agent for specialized handling.",
			Confidence:  0.68,
		},
		Metadata: orchestratorx.Metadata{ResponseTimeMs: 12, Model: "test-model", UserTier: "free", Timestamp: time.Now().UTC()},
	}
	if req.Streaming {
		res.Stream = &sliceStream{parts: append([]string(nil), f.chunks...)}
		return res
	}
	res.Response = contractx.HandlerResponse{Content: "Your order #8829 has shipped.", Reasoning: "Order query with order number detected."}
	return res
}

func (f *fakeProcessor) ListHandlers() []contractx.HandlerSummary {
	return []contractx.HandlerSummary{
		{Type: contractx.HandlerSupport, Name: "Support Agent"},
		{Type: contractx.HandlerOrder, Name: "Order Agent"},
		{Type: contractx.HandlerBilling, Name: "Billing Agent"},
	}
}

func (f *fakeProcessor) Capabilities(t contractx.HandlerType) (contractx.Capabilities, error) {
	if t != contractx.HandlerOrder {
		return contractx.Capabilities{}, fmt.Errorf("%w: agent type '%s' not found", contractx.ErrHandlerNotFound, t)
	}
	return contractx.Capabilities{
		Name:  "Order Agent",
		Type:  t,
		Tools: []contractx.ToolSummary{{Name: "fetch_order_details"}},
	}, nil
}

type sliceStream struct {
	parts []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.parts) == 0 {
		return "", io.EOF
	}
	p := s.parts[0]
	s.parts = s.parts[1:]
	return p, nil
}

func (s *sliceStream) Close() error { return nil }

type fakeInvalidator struct {
	users []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return nil
}

type fakeVerifier struct {
	err error
}

func (f fakeVerifier) Verify(string, []byte, string) error { return f.err }

type failingPinger struct {
	*datastore.Store
}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestStore(t *testing.T) *datastore.Store {
	t.Helper()
	store, err := datastore.Open(context.Background(), datastore.Config{
		Driver:      datastore.DriverSQLite,
		DSN:         "file::memory:",
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Processor == nil {
		deps.Processor = &fakeProcessor{}
	}
	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	srv, err := NewServer(Config{RateLimit: 100, RateWindow: time.Minute, HistoryLimit: 10, ServiceName: "test"}, deps)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSendMessagePersistsRoutingAndAnswer(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	proc := &fakeProcessor{}
	srv := newTestServer(t, Deps{Processor: proc, Store: store})

	rec := do(t, srv, http.MethodPost, "/api/chat/messages", map[string]any{
		"userId":  "u-1",
		"message": "Where is my order #8829?",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ConversationID string            `json:"conversationId"`
		Message        datastore.Message `json:"message"`
		Routing        routingView       `json:"routing"`
		Metadata       struct {
			Model string `json:"model"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Equal(t, "order", resp.Message.AgentType)
	assert.Equal(t, contractx.HandlerOrder, resp.Routing.AgentType)
	assert.InDelta(t, 0.68, resp.Routing.Confidence, 1e-9)
	assert.Equal(t, "test-model", resp.Metadata.Model)

	conv, err := store.Conversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "system", conv.Messages[1].Role)
	assert.Equal(t, "router", conv.Messages[1].AgentType)
	assert.InDelta(t, 0.68, conv.Messages[1].Metadata["confidence"], 1e-9)

	require.Len(t, proc.requests, 1)
	assert.Empty(t, proc.requests[0].History)

	rec = do(t, srv, http.MethodPost, "/api/chat/messages", map[string]any{
		"conversationId": resp.ConversationID,
		"userId":         "u-1",
		"message":        "And when will it arrive?",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.requests, 2)
	assert.Len(t, proc.requests[1].History, 3)
	assert.Equal(t, "user", proc.requests[1].History[0].Role)
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodPost, "/api/chat/messages", map[string]any{"userId": "u-1", "message": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Validation Error")
	assert.Contains(t, rec.Body.String(), "Message")
}

func TestSendMessageStreamsNDJSON(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	srv := newTestServer(t, Deps{Processor: &fakeProcessor{chunks: []string{"Your order ", "has shipped."}}, Store: store})

	rec := do(t, srv, http.MethodPost, "/api/chat/messages", map[string]any{
		"userId":  "u-2",
		"message": "track #8829",
		"stream":  true,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	events := make([]stream.Event, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal([]byte(line), &events[i]))
	}
	assert.Equal(t, stream.TypeStatus, events[0].Type)
	assert.Equal(t, stream.TypeRouting, events[1].Type)
	assert.Equal(t, "order", events[1].AgentType)
	assert.Equal(t, "Your order ", events[3].Content)
	assert.Equal(t, stream.TypeDone, events[5].Type)
	require.NotEmpty(t, events[5].MessageID)

	convs, err := store.UserConversations(context.Background(), "u-2", 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	conv, err := store.Conversation(context.Background(), convs[0].ID)
	require.NoError(t, err)
	var saved *datastore.Message
	for _, m := range conv.Messages {
		if m.ID == events[5].MessageID {
			saved = m
		}
	}
	require.NotNil(t, saved, "done event must reference the stored answer")
	assert.Equal(t, "assistant", saved.Role)
	assert.Equal(t, "Your order has shipped.", saved.Content)
}

func TestConversationRoutes(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	srv := newTestServer(t, Deps{Store: store})
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "u-3", "")
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/chat/conversations/"+conv.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), conv.ID)

	rec = do(t, srv, http.MethodGet, "/api/chat/conversations/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/chat/conversations", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/chat/conversations?userId=u-3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `1`, string(mustField(t, rec.Body.Bytes(), "total")))

	rec = do(t, srv, http.MethodDelete, "/api/chat/conversations/"+conv.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/chat/conversations/"+conv.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentRoutes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Deps{})

	rec := do(t, srv, http.MethodGet, "/api/agents", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `3`, string(mustField(t, rec.Body.Bytes(), "total")))

	rec = do(t, srv, http.MethodGet, "/api/agents/order/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fetch_order_details")

	rec = do(t, srv, http.MethodGet, "/api/agents/shipping/capabilities", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Agent type 'shipping' not found")
}

func TestUserRoutes(t *testing.T) {
	t.Parallel()

	tiers := &fakeInvalidator{}
	srv := newTestServer(t, Deps{Tiers: tiers})

	rec := do(t, srv, http.MethodPost, "/api/user/sync", map[string]any{"userId": "u-4"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/user/sync", map[string]any{"userId": "u-4", "email": "ana@example.com", "name": "Ana"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"tier":"free"`)
	assert.Equal(t, []string{"u-4"}, tiers.users)

	rec = do(t, srv, http.MethodGet, "/api/user/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/user/me", nil, map[string]string{"x-user-id": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/user/me", nil, map[string]string{"x-user-id": "u-4"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ana@example.com")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	srv := newTestServer(t, Deps{Store: store, EngineProbe: func(context.Context) error { return nil }})
	rec := do(t, srv, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"connected"`)

	srv = newTestServer(t, Deps{Store: failingPinger{store}})
	rec = do(t, srv, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disconnected")

	srv = newTestServer(t, Deps{Store: store, EngineProbe: func(context.Context) error { return errors.New("401") }})
	rec = do(t, srv, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsWebhook(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	record := contractx.MetricsRecord{ID: "m-1", HandlerType: "billing", Intent: "billing", Confidence: 0.7, Successful: true, CreatedAt: time.Now().UTC()}

	srv := newTestServer(t, Deps{Store: store, Verifier: fakeVerifier{}})
	rec := do(t, srv, http.MethodPost, "/api/internal/metrics", record, map[string]string{"Upstash-Signature": "sig"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rows, err := store.RecentMetrics(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "billing", rows[0].AgentType)

	srv = newTestServer(t, Deps{Store: store, Verifier: fakeVerifier{err: errors.New("bad")}})
	rec = do(t, srv, http.MethodPost, "/api/internal/metrics", record, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	srv = newTestServer(t, Deps{Store: store})
	rec = do(t, srv, http.MethodPost, "/api/internal/metrics", record, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newClientLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	now = now.Add(30 * time.Second)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{RateLimit: 1, RateWindow: time.Hour}, Deps{Processor: &fakeProcessor{}, Store: newTestStore(t)})
	require.NoError(t, err)

	headers := map[string]string{"X-Forwarded-For": "203.0.113.9"}
	rec := do(t, srv, http.MethodGet, "/api/agents", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/agents", nil, headers)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
}

func mustField(t *testing.T, body []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	v, ok := m[field]
	require.Truef(t, ok, "field %q missing in %s", field, body)
	return v
}
