package handler

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	llmx "github.com/tanpawarit/relay-support-router/agent/llm"
	promptx "github.com/tanpawarit/relay-support-router/agent/prompt"
	toolx "github.com/tanpawarit/relay-support-router/agent/tool"
)

type registryImpl struct {
	byType  map[contractx.HandlerType]contractx.Handler
	ordered []contractx.Handler
}

var _ contractx.Registry = (*registryImpl)(nil)

func (r *registryImpl) Handler(t contractx.HandlerType) (contractx.Handler, bool) {
	h, ok := r.byType[t]
	return h, ok
}

func (r *registryImpl) Handlers() []contractx.Handler {
	return append([]contractx.Handler(nil), r.ordered...)
}

// NewRegistry indexes handlers by type. Duplicate types are rejected.
func NewRegistry(handlers ...contractx.Handler) (contractx.Registry, error) {
	r := &registryImpl{byType: make(map[contractx.HandlerType]contractx.Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, dup := r.byType[h.Type()]; dup {
			return nil, fmt.Errorf("%w: duplicate handler %s", contractx.ErrValidation, h.Type())
		}
		r.byType[h.Type()] = h
		r.ordered = append(r.ordered, h)
	}
	return r, nil
}

// Configs assembles the three routable handler configs from the embedded
// prompts and catalog.
func Configs(prompts promptx.PromptSet, catalog promptx.Catalog, src toolx.Sources) ([]Config, error) {
	out := make([]Config, 0, len(contractx.RoutableHandlers))
	for _, t := range contractx.RoutableHandlers {
		systemPrompt, err := prompts.For(t)
		if err != nil {
			return nil, err
		}
		entry, ok := catalog.Entry(t)
		if !ok {
			return nil, fmt.Errorf("%w: catalog has no entry for %s", contractx.ErrValidation, t)
		}
		out = append(out, Config{
			Type:         t,
			Name:         entry.Name,
			Description:  entry.Description,
			SystemPrompt: systemPrompt,
			Guardrails:   prompts.Guardrails,
			Tools:        toolx.ForHandler(t, src),
			Reasoning:    entry.Reasoning,
		})
	}
	return out, nil
}

// Build creates one engine per handler from cfg and returns the registry.
func Build(ctx context.Context, cfg llmx.Config, src toolx.Sources) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configs, err := Configs(promptx.LoadPromptSet(), promptx.MustLoadCatalog(), src)
	if err != nil {
		return nil, err
	}

	handlers := make([]contractx.Handler, 0, len(configs))
	for _, hc := range configs {
		engine, err := llmx.EngineFor(ctx, cfg, hc.Type)
		if err != nil {
			return nil, err
		}
		h, err := New(hc, engine)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return NewRegistry(handlers...)
}
