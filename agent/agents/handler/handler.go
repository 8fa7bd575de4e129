package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	llmx "github.com/tanpawarit/relay-support-router/agent/llm"
	observex "github.com/tanpawarit/relay-support-router/agent/observability"
	promptx "github.com/tanpawarit/relay-support-router/agent/prompt"
	"github.com/tanpawarit/relay-support-router/agent/sanitize"
	toolx "github.com/tanpawarit/relay-support-router/agent/tool"
)

const (
	temperature   = 0.7
	maxTokens     = 1000
	maxRetries    = 2
	maxToolRounds = 5
)

// Config describes one domain handler. Handlers differ only in this data.
type Config struct {
	Type         contractx.HandlerType `validate:"required,oneof=support order billing"`
	Name         string                `validate:"required"`
	Description  string                `validate:"required"`
	SystemPrompt string                `validate:"required"`
	Guardrails   string
	Tools        []toolx.ToolSpec
	Reasoning    promptx.Reasoning
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type Handler struct {
	cfg    Config
	engine llmx.Generator
	tools  []einotool.InvokableTool
}

var _ contractx.Handler = (*Handler)(nil)

func New(cfg Config, engine llmx.Generator) (*Handler, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: handler config: %v", contractx.ErrValidation, err)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: handler %s has no engine", contractx.ErrValidation, cfg.Type)
	}
	tools, err := toolx.Bridge(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", cfg.Type, err)
	}
	return &Handler{cfg: cfg, engine: engine, tools: tools}, nil
}

func (h *Handler) Type() contractx.HandlerType {
	return h.cfg.Type
}

func (h *Handler) Respond(ctx context.Context, query string, rc contractx.RequestContext) (contractx.HandlerResponse, error) {
	ctx, span := observex.Tracer("handler").Start(ctx, "handler.respond")
	defer span.End()
	span.SetAttributes(attribute.String("handler", string(h.cfg.Type)))

	content, err := h.engine.Generate(contractx.WithRequestContext(ctx, rc), h.request(query, rc))
	if err != nil {
		err = h.fail(query, rc, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return contractx.HandlerResponse{}, err
	}

	return contractx.HandlerResponse{
		Content:   content,
		Reasoning: h.Reasoning(query),
	}, nil
}

// RespondStream opens a single streamed engine turn. The caller owns the
// returned stream and must Close it.
func (h *Handler) RespondStream(ctx context.Context, query string, rc contractx.RequestContext) (contractx.TextStream, error) {
	stream, err := h.engine.Stream(contractx.WithRequestContext(ctx, rc), h.request(query, rc))
	if err != nil {
		return nil, h.fail(query, rc, err)
	}
	return stream, nil
}

// Model reports the engine's model name when the engine exposes one.
func (h *Handler) Model() string {
	if m, ok := h.engine.(interface{ ModelName() string }); ok {
		return m.ModelName()
	}
	return ""
}

func (h *Handler) Reasoning(query string) string {
	if out := h.cfg.Reasoning.Explain(query); out != "" {
		return out
	}
	return fmt.Sprintf("%s analyzed the query and generated a response based on available context and tools.", h.cfg.Name)
}

func (h *Handler) Capabilities() contractx.Capabilities {
	return contractx.Capabilities{
		Name:        h.cfg.Name,
		Type:        h.cfg.Type,
		Description: h.cfg.Description,
		Tools:       toolx.Summaries(h.cfg.Tools),
	}
}

func (h *Handler) request(query string, rc contractx.RequestContext) llmx.Request {
	return llmx.Request{
		SystemPrompt:  SystemPrompt(h.cfg.SystemPrompt, rc, h.cfg.Guardrails),
		Prompt:        query,
		Tools:         h.tools,
		Temperature:   temperature,
		MaxTokens:     maxTokens,
		MaxRetries:    maxRetries,
		MaxToolRounds: maxToolRounds,
	}
}

func (h *Handler) fail(query string, rc contractx.RequestContext, err error) error {
	if !errors.Is(err, contractx.ErrModelInvoke) {
		err = fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	log.Error().
		Err(err).
		Str("handler", h.cfg.Name).
		Str("query", query).
		Strs("context_keys", ContextKeys(rc)).
		Msg("handler failed to generate a response")
	return fmt.Errorf("handler %s: %w", h.cfg.Type, err)
}

// SystemPrompt appends the rendered request context and the guardrails to
// the handler prompt.
func SystemPrompt(prompt string, rc contractx.RequestContext, guardrails string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAvailable context:\n")
	b.WriteString(sanitize.RenderOrPlaceholder(rc))
	if g := strings.TrimSpace(guardrails); g != "" {
		b.WriteString("\n\n")
		b.WriteString(g)
	}
	return b.String()
}

// ContextKeys lists the top-level context field names, sorted. Values are
// never logged.
func ContextKeys(rc contractx.RequestContext) []string {
	m, ok := sanitize.Sanitize(rc).(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
