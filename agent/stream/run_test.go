package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestratorx "github.com/tanpawarit/relay-support-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

type fakeProcessor struct {
	res orchestratorx.Result
	req orchestratorx.Request
}

func (f *fakeProcessor) Process(_ context.Context, req orchestratorx.Request) orchestratorx.Result {
	f.req = req
	return f.res
}

type fakeStream struct {
	parts  []string
	err    error
	closed int
}

func (s *fakeStream) Recv() (string, error) {
	if s.closed > 0 {
		return "", io.EOF
	}
	if len(s.parts) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	p := s.parts[0]
	s.parts = s.parts[1:]
	return p, nil
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type recordingSink struct {
	events []Event
	failAt int
}

func (r *recordingSink) Send(ev Event) error {
	if r.failAt > 0 && len(r.events)+1 == r.failAt {
		return errors.New("client disconnected")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []EventType {
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func orderResult(stream contractx.TextStream) orchestratorx.Result {
	return orchestratorx.Result{
		Routing: contractx.RoutingDecision{
			HandlerType: contractx.HandlerOrder,
			Reasoning:   "Routing to Order agent for specialized handling.",
			Confidence:  0.68,
		},
		Stream: stream,
	}
}

func TestRunEmitsOrderedEvents(t *testing.T) {
	t.Parallel()

	up := &fakeStream{parts: []string{"Your ", "order ", "shipped."}}
	proc := &fakeProcessor{res: orderResult(up)}
	sink := &recordingSink{}

	var got Completion
	err := Run(context.Background(), proc, orchestratorx.Request{Query: "track #1"}, sink,
		func(_ context.Context, c Completion) (string, error) {
			got = c
			return "msg-1", nil
		})
	require.NoError(t, err)

	assert.True(t, proc.req.Streaming)
	assert.Equal(t, []EventType{TypeStatus, TypeRouting, TypeStatus, TypeChunk, TypeChunk, TypeChunk, TypeDone}, sink.types())

	assert.Equal(t, StatusTyping, sink.events[0].Status)
	assert.Equal(t, "router", sink.events[0].Agent)
	assert.Equal(t, "order", sink.events[1].AgentType)
	require.NotNil(t, sink.events[1].Confidence)
	assert.InDelta(t, 0.68, *sink.events[1].Confidence, 1e-9)
	assert.Equal(t, StatusResponding, sink.events[2].Status)
	assert.Equal(t, "order", sink.events[2].Agent)
	assert.Equal(t, "msg-1", sink.events[6].MessageID)

	assert.Equal(t, "Your order shipped.", got.Content)
	assert.Equal(t, contractx.HandlerOrder, got.Routing.HandlerType)
	assert.Equal(t, 1, up.closed)
}

func TestRunFallbackSendsSingleChunk(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{res: orchestratorx.Result{
		Routing:  contractx.RoutingDecision{HandlerType: contractx.HandlerSupport, Confidence: 0.5},
		Response: contractx.HandlerResponse{Content: orchestratorx.FallbackResponse},
		Metadata: orchestratorx.Metadata{Error: "boom"},
	}}
	sink := &recordingSink{}

	err := Run(context.Background(), proc, orchestratorx.Request{Query: "q"}, sink, nil)
	require.NoError(t, err)
	assert.Equal(t, []EventType{TypeStatus, TypeRouting, TypeStatus, TypeChunk, TypeDone}, sink.types())
	assert.Equal(t, orchestratorx.FallbackResponse, sink.events[3].Content)
	assert.Empty(t, sink.events[4].MessageID)
}

func TestRunClosesUpstreamWhenConsumerStops(t *testing.T) {
	t.Parallel()

	up := &fakeStream{parts: []string{"a", "b", "c"}}
	sink := &recordingSink{failAt: 5}
	completed := false

	err := Run(context.Background(), &fakeProcessor{res: orderResult(up)}, orchestratorx.Request{}, sink,
		func(context.Context, Completion) (string, error) {
			completed = true
			return "", nil
		})
	require.ErrorIs(t, err, ErrConsumerGone)
	assert.Equal(t, 1, up.closed)
	assert.False(t, completed)
	assert.Len(t, sink.events, 4)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	err := Run(ctx, &fakeProcessor{}, orchestratorx.Request{}, sink, nil)
	require.ErrorIs(t, err, ErrConsumerGone)
	assert.Empty(t, sink.events)
}

func TestRunMidStreamFailure(t *testing.T) {
	t.Parallel()

	up := &fakeStream{err: contractx.ErrModelInvoke}
	sink := &recordingSink{}
	var got Completion

	err := Run(context.Background(), &fakeProcessor{res: orderResult(up)}, orchestratorx.Request{}, sink,
		func(_ context.Context, c Completion) (string, error) {
			got = c
			return "m", nil
		})
	require.NoError(t, err)
	assert.Equal(t, []EventType{TypeStatus, TypeRouting, TypeStatus, TypeChunk, TypeDone}, sink.types())
	assert.Equal(t, orchestratorx.FallbackResponse, got.Content)
}

func TestEncoderWritesNDJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Send(StatusEvent(StatusTyping, contractx.HandlerRouter)))
	require.NoError(t, enc.Send(RoutingEvent(contractx.RoutingDecision{HandlerType: contractx.HandlerBilling, Reasoning: "r", Confidence: 0})))
	require.NoError(t, enc.Send(ChunkEvent("hi")))
	require.NoError(t, enc.Send(DoneEvent("m1")))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"type":"status","status":"typing","agent":"router"}`, lines[0])
	assert.JSONEq(t, `{"type":"routing","agentType":"billing","reasoning":"r","confidence":0}`, lines[1])
	assert.JSONEq(t, `{"type":"chunk","content":"hi"}`, lines[2])
	assert.JSONEq(t, `{"type":"done","messageId":"m1"}`, lines[3])

	for _, line := range lines {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
	}
}
