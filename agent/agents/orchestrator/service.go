package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	observex "github.com/tanpawarit/relay-support-router/agent/observability"
	nodex "github.com/tanpawarit/relay-support-router/agent/nodes/orchestrator"
)

var ErrInvalidQuery = nodex.ErrInvalidQuery

const (
	FallbackReasoning         = "Service temporarily unavailable, defaulting to support agent"
	FallbackConfidence        = 0.5
	FallbackResponse          = "I apologize, but I'm experiencing technical difficulties processing your request at the moment. Please try again in a few moments, or rephrase your question."
	FallbackResponseReasoning = "Error occurred while processing the request"

	failureIntent = "unknown"
)

type Request struct {
	Query          string
	UserID         string
	ConversationID string
	History        []contractx.HistoryTurn
	Streaming      bool
}

type Metadata struct {
	ResponseTimeMs int64     `json:"responseTime"`
	Model          string    `json:"model,omitempty"`
	UserTier       string    `json:"userTier,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
}

// Result is always well formed. When Metadata.Error is set the routing and
// response carry the fallback values and Stream is nil.
type Result struct {
	Routing  contractx.RoutingDecision `json:"routing"`
	Response contractx.HandlerResponse `json:"response"`
	Stream   contractx.TextStream      `json:"-"`
	Metadata Metadata                  `json:"metadata"`
}

func (r Result) Failed() bool {
	return r.Metadata.Error != ""
}

type Orchestrator struct {
	classifier contractx.Classifier
	handlers   contractx.Registry
	tiers      contractx.TierResolver
	metrics    contractx.MetricsSink

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

type Option func(*Orchestrator)

func WithTierResolver(r contractx.TierResolver) Option {
	return func(o *Orchestrator) { o.tiers = r }
}

func WithMetricsSink(s contractx.MetricsSink) Option {
	return func(o *Orchestrator) { o.metrics = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(
	classifier contractx.Classifier,
	handlers contractx.Registry,
	opts ...Option,
) (*Orchestrator, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if handlers == nil {
		return nil, errors.New("handler registry is required")
	}

	o := &Orchestrator{
		classifier: classifier,
		handlers:   handlers,
		metrics:    noopMetricsSink{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	graphRunner, err := o.compileProcessGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// Process routes and answers one query. It never returns an error; failures
// produce the fallback result with Metadata.Error set. For streaming
// requests the caller owns Result.Stream.
func (o *Orchestrator) Process(ctx context.Context, req Request) (res Result) {
	start := o.now()
	mode := "sync"
	if req.Streaming {
		mode = "stream"
	}

	ctx, span := observex.Tracer("orchestrator").Start(ctx, "orchestrator.process")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			log.Error().Err(err).Str("query", req.Query).Msg("orchestrator panicked")
			res = o.fail(ctx, req, start, err, observex.OutcomePanic)
		}
	}()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		Query: req.Query,
		Context: contractx.RequestContext{
			UserID:              req.UserID,
			ConversationID:      req.ConversationID,
			ConversationHistory: req.History,
		},
		Streaming: req.Streaming,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		return o.fail(ctx, req, start, err, observex.OutcomeError)
	}

	elapsed := o.now().Sub(start)
	handler := string(out.Decision.HandlerType)
	span.SetAttributes(
		attribute.String("handler", handler),
		attribute.Float64("confidence", out.Decision.Confidence),
	)
	observex.RequestsTotal.WithLabelValues(handler, observex.OutcomeSuccess).Inc()
	observex.RequestDuration.WithLabelValues(handler, mode).Observe(elapsed.Seconds())
	log.Info().
		Str("handler", handler).
		Float64("confidence", out.Decision.Confidence).
		Int64("latency_ms", elapsed.Milliseconds()).
		Bool("streaming", req.Streaming).
		Msg("query routed")

	o.record(ctx, contractx.MetricsRecord{
		HandlerType:    handler,
		SessionID:      req.ConversationID,
		Intent:         handler,
		Confidence:     out.Decision.Confidence,
		ResponseTimeMs: elapsed.Milliseconds(),
		Successful:     true,
	})

	return Result{
		Routing:  out.Decision,
		Response: out.Response,
		Stream:   out.Stream,
		Metadata: Metadata{
			ResponseTimeMs: elapsed.Milliseconds(),
			Model:          out.Model,
			UserTier:       out.UserTier,
			Timestamp:      start.UTC(),
		},
	}
}

func (o *Orchestrator) fail(ctx context.Context, req Request, start time.Time, err error, outcome string) Result {
	elapsed := o.now().Sub(start)
	log.Error().Err(err).Str("query", req.Query).Msg("orchestrator failed, returning fallback")
	observex.RequestsTotal.WithLabelValues(string(contractx.HandlerRouter), outcome).Inc()

	o.record(ctx, contractx.MetricsRecord{
		HandlerType:    string(contractx.HandlerRouter),
		SessionID:      req.ConversationID,
		Intent:         failureIntent,
		Confidence:     0,
		ResponseTimeMs: elapsed.Milliseconds(),
		Successful:     false,
		ErrorMessage:   err.Error(),
	})

	return Result{
		Routing: contractx.RoutingDecision{
			HandlerType: contractx.HandlerSupport,
			Reasoning:   FallbackReasoning,
			Confidence:  FallbackConfidence,
		},
		Response: contractx.HandlerResponse{
			Content:   FallbackResponse,
			Reasoning: FallbackResponseReasoning,
		},
		Metadata: Metadata{
			ResponseTimeMs: elapsed.Milliseconds(),
			Timestamp:      start.UTC(),
			Error:          err.Error(),
		},
	}
}

// record appends one metrics record. Sink failures are logged and dropped.
func (o *Orchestrator) record(ctx context.Context, rec contractx.MetricsRecord) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = o.now().UTC()
	if err := o.metrics.AppendMetrics(ctx, rec); err != nil {
		observex.MetricsSinkErrors.WithLabelValues("orchestrator").Inc()
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("failed to append agent metrics")
	}
}

// ListHandlers describes the routable handlers in display order.
func (o *Orchestrator) ListHandlers() []contractx.HandlerSummary {
	out := make([]contractx.HandlerSummary, 0, len(contractx.RoutableHandlers))
	for _, t := range contractx.RoutableHandlers {
		h, ok := o.handlers.Handler(t)
		if !ok {
			continue
		}
		caps := h.Capabilities()
		out = append(out, contractx.HandlerSummary{
			Type:        caps.Type,
			Name:        caps.Name,
			Description: caps.Description,
		})
	}
	return out
}

// Capabilities describes one handler, including the router itself.
func (o *Orchestrator) Capabilities(t contractx.HandlerType) (contractx.Capabilities, error) {
	if t == contractx.HandlerRouter {
		return o.classifier.Capabilities(), nil
	}
	h, ok := o.handlers.Handler(t)
	if !ok {
		return contractx.Capabilities{}, fmt.Errorf("%w: agent type '%s' not found", contractx.ErrHandlerNotFound, t)
	}
	return h.Capabilities(), nil
}

type noopMetricsSink struct{}

func (noopMetricsSink) AppendMetrics(context.Context, contractx.MetricsRecord) error {
	return nil
}
