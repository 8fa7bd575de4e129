package router

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	llmx "github.com/tanpawarit/relay-support-router/agent/llm"
)

type classifyInput struct {
	Query   string
	History []contractx.HistoryTurn
}

type classifyState struct {
	Query   string
	Request llmx.Request
	Reply   string
}

func (c *Classifier) compileGraph(ctx context.Context) (compose.Runnable[classifyInput, contractx.RoutingDecision], error) {
	graph := compose.NewGraph[classifyInput, contractx.RoutingDecision]()

	if err := graph.AddLambdaNode("prompt",
		compose.InvokableLambda(func(ctx context.Context, in classifyInput) (*classifyState, error) {
			return &classifyState{
				Query: in.Query,
				Request: llmx.Request{
					SystemPrompt: c.systemPrompt,
					Prompt:       UserPrompt(in.Query, in.History),
					Temperature:  temperature,
					MaxTokens:    maxTokens,
					MaxRetries:   maxRetries,
				},
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node prompt: %w", err)
	}

	if err := graph.AddLambdaNode("model",
		compose.InvokableLambda(func(ctx context.Context, in *classifyState) (*classifyState, error) {
			reply, err := c.engine.Generate(ctx, in.Request)
			if err != nil {
				return nil, err
			}
			in.Reply = reply
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node model: %w", err)
	}

	if err := graph.AddLambdaNode("normalize",
		compose.InvokableLambda(func(ctx context.Context, in *classifyState) (contractx.RoutingDecision, error) {
			return c.normalize(in.Query, in.Reply), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node normalize: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "normalize"},
		{"normalize", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("router.classify"))
	if err != nil {
		return nil, fmt.Errorf("compile router graph: %w", err)
	}
	return runner, nil
}

// normalize maps the raw reply onto a routable handler; anything else goes
// to support.
func (c *Classifier) normalize(query, reply string) contractx.RoutingDecision {
	t, ok := contractx.ParseHandlerType(reply)
	if !ok {
		t = contractx.HandlerSupport
	}
	return contractx.RoutingDecision{
		HandlerType: t,
		Reasoning:   Reasoning(t),
		Confidence:  c.Confidence(query, t),
	}
}
