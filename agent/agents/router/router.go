package router

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	llmx "github.com/tanpawarit/relay-support-router/agent/llm"
	observex "github.com/tanpawarit/relay-support-router/agent/observability"
	promptx "github.com/tanpawarit/relay-support-router/agent/prompt"
)

const (
	temperature   = 0.3
	maxTokens     = 50
	maxRetries    = 2
	historyWindow = 3

	maxConfidence  = 0.95
	baseConfidence = 0.5
	keywordWeight  = 0.45
)

// DefaultDecision is returned whenever the engine cannot produce a reply.
var DefaultDecision = contractx.RoutingDecision{
	HandlerType: contractx.HandlerSupport,
	Reasoning:   "Routing to support agent for general inquiry assistance",
	Confidence:  0.6,
}

type Classifier struct {
	engine       llmx.Generator
	systemPrompt string
	catalog      promptx.Catalog

	runner compose.Runnable[classifyInput, contractx.RoutingDecision]
}

var _ contractx.Classifier = (*Classifier)(nil)

func New(ctx context.Context, engine llmx.Generator, systemPrompt string, catalog promptx.Catalog) (*Classifier, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: router engine is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: router", contractx.ErrPromptMissing)
	}

	c := &Classifier{
		engine:       engine,
		systemPrompt: systemPrompt,
		catalog:      catalog,
	}
	runner, err := c.compileGraph(ctx)
	if err != nil {
		return nil, err
	}
	c.runner = runner
	return c, nil
}

// Classify picks the handler for query. It never fails: engine errors
// collapse into DefaultDecision.
func (c *Classifier) Classify(ctx context.Context, query string, rc contractx.RequestContext) contractx.RoutingDecision {
	ctx, span := observex.Tracer("router").Start(ctx, "router.classify")
	defer span.End()

	start := time.Now()
	decision, err := c.runner.Invoke(ctx, classifyInput{Query: query, History: rc.ConversationHistory})
	if err != nil {
		err = fmt.Errorf("%w: %v", contractx.ErrClassification, err)
		log.Error().Err(err).Str("query", query).Msg("router classification failed, using default")
		span.RecordError(err)
		observex.RoutingDecisions.WithLabelValues(string(DefaultDecision.HandlerType), "true").Inc()
		return DefaultDecision
	}

	span.SetAttributes(
		attribute.String("router.handler", string(decision.HandlerType)),
		attribute.Float64("router.confidence", decision.Confidence),
	)
	observex.RoutingDecisions.WithLabelValues(string(decision.HandlerType), "false").Inc()
	observex.RoutingConfidence.WithLabelValues(string(decision.HandlerType)).Observe(decision.Confidence)
	log.Debug().
		Str("handler", string(decision.HandlerType)).
		Float64("confidence", decision.Confidence).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("query routed")
	return decision
}

func (c *Classifier) Capabilities() contractx.Capabilities {
	entry, _ := c.catalog.Entry(contractx.HandlerRouter)
	return contractx.Capabilities{
		Name:        entry.Name,
		Type:        contractx.HandlerRouter,
		Description: entry.Description,
		Tools:       []contractx.ToolSummary{},
	}
}

// Confidence scores how strongly query matches the keywords of t.
func (c *Classifier) Confidence(query string, t contractx.HandlerType) float64 {
	entry, _ := c.catalog.Entry(t)
	return KeywordConfidence(query, entry.Keywords)
}

// KeywordConfidence is min(0.95, 0.5 + hits/words*0.45) rounded to two
// decimals. hits counts keywords contained in the lower-cased query; words
// counts whitespace-separated tokens.
func KeywordConfidence(query string, keywords []string) float64 {
	words := len(strings.Fields(query))
	if words == 0 {
		return baseConfidence
	}

	lower := strings.ToLower(query)
	hits := 0
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			hits++
		}
	}

	score := math.Min(maxConfidence, baseConfidence+float64(hits)/float64(words)*keywordWeight)
	return math.Round(score*100) / 100
}

func Reasoning(t contractx.HandlerType) string {
	name := "Support"
	switch t {
	case contractx.HandlerOrder:
		name = "Order"
	case contractx.HandlerBilling:
		name = "Billing"
	}
	return fmt.Sprintf("Routing to %s agent for specialized handling.", name)
}

// UserPrompt renders the query plus the last few history turns.
func UserPrompt(query string, history []contractx.HistoryTurn) string {
	recent := "None"
	if n := len(history); n > 0 {
		if n > historyWindow {
			history = history[n-historyWindow:]
		}
		lines := make([]string, 0, len(history))
		for _, turn := range history {
			lines = append(lines, turn.Role+": "+turn.Content)
		}
		recent = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(
		"Query: \"%s\"\n\nPrevious conversation context: %s\n\nWhich agent should handle this? Respond with only: support, order, or billing",
		query, recent,
	)
}
