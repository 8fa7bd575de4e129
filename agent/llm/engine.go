package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	observex "github.com/tanpawarit/relay-support-router/agent/observability"
)

// Request is one generation call. MaxToolRounds bounds how many times tool
// results are fed back before the model must answer; it only applies to
// Generate.
type Request struct {
	SystemPrompt  string
	Prompt        string
	Tools         []einotool.InvokableTool
	Temperature   float32
	MaxTokens     int
	MaxRetries    int
	MaxToolRounds int
}

// Generator is the engine surface the router and handlers depend on.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (contractx.TextStream, error)
}

type Engine struct {
	model      einomodel.ToolCallingChatModel
	modelName  string
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

var _ Generator = (*Engine)(nil)

type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func WithModelName(name string) Option {
	return func(e *Engine) { e.modelName = name }
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Engine) { e.newBackOff = fn }
}

func NewEngine(m einomodel.ToolCallingChatModel, opts ...Option) *Engine {
	e := &Engine{
		model: m,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ModelName() string {
	return e.modelName
}

func (e *Engine) Generate(ctx context.Context, req Request) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	chatModel, byName, err := e.bind(ctx, req.Tools)
	if err != nil {
		observex.EngineCalls.WithLabelValues("generate", observex.OutcomeError).Inc()
		return "", err
	}

	messages := []*schema.Message{
		schema.SystemMessage(req.SystemPrompt),
		schema.UserMessage(req.Prompt),
	}
	opts := callOptions(req)

	for round := 0; ; round++ {
		var msg *schema.Message
		err := e.retry(ctx, req.MaxRetries, func() error {
			var callErr error
			msg, callErr = chatModel.Generate(ctx, messages, opts...)
			return callErr
		})
		if err != nil {
			observex.EngineCalls.WithLabelValues("generate", observex.OutcomeError).Inc()
			return "", fmt.Errorf("%w: generate: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil {
			observex.EngineCalls.WithLabelValues("generate", observex.OutcomeError).Inc()
			return "", fmt.Errorf("%w: empty model response", contractx.ErrModelInvoke)
		}

		if len(msg.ToolCalls) == 0 || round >= req.MaxToolRounds {
			observex.EngineCalls.WithLabelValues("generate", observex.OutcomeSuccess).Inc()
			return strings.TrimSpace(msg.Content), nil
		}

		messages = append(messages, msg)
		messages = append(messages, runToolCalls(ctx, msg.ToolCalls, byName)...)
	}
}

// Stream performs a single streamed turn. Tool-call deltas are skipped; the
// returned stream yields only text. Closing it cancels the upstream call.
func (e *Engine) Stream(ctx context.Context, req Request) (contractx.TextStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	if e.timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, e.timeout)
		parent := cancel
		cancel = func() {
			timeoutCancel()
			parent()
		}
	}

	chatModel, _, err := e.bind(ctx, req.Tools)
	if err != nil {
		cancel()
		observex.EngineCalls.WithLabelValues("stream", observex.OutcomeError).Inc()
		return nil, err
	}

	messages := []*schema.Message{
		schema.SystemMessage(req.SystemPrompt),
		schema.UserMessage(req.Prompt),
	}

	var reader *schema.StreamReader[*schema.Message]
	err = e.retry(ctx, req.MaxRetries, func() error {
		var callErr error
		reader, callErr = chatModel.Stream(ctx, messages, callOptions(req)...)
		return callErr
	})
	if err != nil {
		cancel()
		observex.EngineCalls.WithLabelValues("stream", observex.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: stream: %v", contractx.ErrModelInvoke, err)
	}

	observex.EngineCalls.WithLabelValues("stream", observex.OutcomeSuccess).Inc()
	return &textStream{reader: reader, cancel: cancel}, nil
}

func (e *Engine) bind(ctx context.Context, tools []einotool.InvokableTool) (einomodel.ToolCallingChatModel, map[string]einotool.InvokableTool, error) {
	if len(tools) == 0 {
		return e.model, nil, nil
	}

	infos := make([]*schema.ToolInfo, 0, len(tools))
	byName := make(map[string]einotool.InvokableTool, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: tool info: %v", contractx.ErrValidation, err)
		}
		infos = append(infos, info)
		byName[info.Name] = t
	}

	bound, err := e.model.WithTools(infos)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
	}
	return bound, byName, nil
}

func (e *Engine) retry(ctx context.Context, maxRetries int, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(maxRetries)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("model call failed, retrying")
	})
}

func callOptions(req Request) []einomodel.Option {
	var opts []einomodel.Option
	if req.Temperature > 0 {
		opts = append(opts, einomodel.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

// runToolCalls executes sibling calls concurrently. Each call yields exactly
// one tool message; failures are reported to the model as {"error": ...}.
func runToolCalls(ctx context.Context, calls []schema.ToolCall, byName map[string]einotool.InvokableTool) []*schema.Message {
	results := make([]*schema.Message, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = schema.ToolMessage(invokeTool(ctx, call, byName), call.ID)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func invokeTool(ctx context.Context, call schema.ToolCall, byName map[string]einotool.InvokableTool) (out string) {
	name := call.Function.Name
	t, ok := byName[name]
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool %q", name))
	}

	defer func() {
		if r := recover(); r != nil {
			out = errorPayload(fmt.Sprintf("%v", r))
		}
	}()

	out, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("tool returned an error")
		return errorPayload(err.Error())
	}
	return out
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}

type textStream struct {
	reader *schema.StreamReader[*schema.Message]
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *textStream) Recv() (string, error) {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return "", io.EOF
		}

		msg, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%w: stream recv: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		return msg.Content, nil
	}
}

func (s *textStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.reader.Close()
	return nil
}
