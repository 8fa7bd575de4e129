package contract

import "context"

// Handler is the capability every domain responder exposes to the orchestrator.
type Handler interface {
	Type() HandlerType
	Respond(ctx context.Context, query string, rc RequestContext) (HandlerResponse, error)
	RespondStream(ctx context.Context, query string, rc RequestContext) (TextStream, error)
	Reasoning(query string) string
	Capabilities() Capabilities
}

// Classifier never fails; engine errors collapse into a default decision.
type Classifier interface {
	Classify(ctx context.Context, query string, rc RequestContext) RoutingDecision
	Capabilities() Capabilities
}

type Registry interface {
	Handler(t HandlerType) (Handler, bool)
	Handlers() []Handler
}

// TextStream is a forward-only, single-consumption sequence of text fragments.
// Recv returns io.EOF once the engine signals completion. Close releases the
// upstream call and is safe to call more than once.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

type TierResolver interface {
	LookupUserTier(ctx context.Context, userID string) (string, error)
}

type MetricsSink interface {
	AppendMetrics(ctx context.Context, rec MetricsRecord) error
}
