package llm

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	errs      []error
	chunks    []*schema.Message
	idx       int

	inputs    [][]*schema.Message
	options   []*einomodel.Options
	boundTool []*schema.ToolInfo
	streamCtx context.Context
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, append([]*schema.Message(nil), input...))
	f.options = append(f.options, einomodel.GetCommonOptions(nil, opts...))

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("no fake response left")
	}
	if f.idx >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.streamCtx = ctx
	f.inputs = append(f.inputs, input)
	return schema.StreamReaderFromArray(f.chunks), nil
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.boundTool = tools
	return f, nil
}

type fakeTool struct {
	name  string
	out   string
	err   error
	calls atomic.Int32
}

func (t *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: t.name}, nil
}

func (t *fakeTool) InvokableRun(_ context.Context, _ string, _ ...einotool.Option) (string, error) {
	t.calls.Add(1)
	return t.out, t.err
}

func toolCall(id, name string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: `{}`}}
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestGeneratePassesSamplingOptions(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{schema.AssistantMessage("  order  ", nil)}}
	engine := NewEngine(fake, WithBackOff(zeroBackOff))

	out, err := engine.Generate(context.Background(), Request{
		SystemPrompt: "sys",
		Prompt:       "where is #8829",
		Temperature:  0.3,
		MaxTokens:    50,
	})
	require.NoError(t, err)
	assert.Equal(t, "order", out)

	require.Len(t, fake.inputs, 1)
	require.Len(t, fake.inputs[0], 2)
	assert.Equal(t, schema.System, fake.inputs[0][0].Role)
	assert.Equal(t, "where is #8829", fake.inputs[0][1].Content)

	opts := fake.options[0]
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.3, *opts.Temperature, 1e-6)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, 50, *opts.MaxTokens)
	assert.Nil(t, fake.boundTool)
}

func TestGenerateFeedsToolResultsBack(t *testing.T) {
	t.Parallel()

	lookup := &fakeTool{name: "fetch_order_details", out: `{"status":"shipped"}`}
	broken := &fakeTool{name: "check_delivery_status", err: errors.New("upstream down")}

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{
			toolCall("call_1", "fetch_order_details"),
			toolCall("call_2", "check_delivery_status"),
			toolCall("call_3", "missing_tool"),
		}),
		schema.AssistantMessage("Your order has shipped.", nil),
	}}
	engine := NewEngine(fake, WithBackOff(zeroBackOff))

	out, err := engine.Generate(context.Background(), Request{
		Prompt:        "where is my order",
		Tools:         []einotool.InvokableTool{lookup, broken},
		MaxToolRounds: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Your order has shipped.", out)
	assert.Len(t, fake.boundTool, 2)

	require.Len(t, fake.inputs, 2)
	second := fake.inputs[1]
	require.Len(t, second, 6)

	toolMsgs := second[3:]
	assert.Equal(t, "call_1", toolMsgs[0].ToolCallID)
	assert.JSONEq(t, `{"status":"shipped"}`, toolMsgs[0].Content)
	assert.Equal(t, "call_2", toolMsgs[1].ToolCallID)
	assert.JSONEq(t, `{"error":"upstream down"}`, toolMsgs[1].Content)
	assert.Contains(t, toolMsgs[2].Content, "unknown tool")
	assert.EqualValues(t, 1, lookup.calls.Load())
}

func TestGenerateBoundsToolRounds(t *testing.T) {
	t.Parallel()

	loop := &fakeTool{name: "loop", out: `{}`}
	fake := &fakeToolCallingModel{responses: []*schema.Message{
		schema.AssistantMessage("still thinking", []schema.ToolCall{toolCall("c", "loop")}),
	}}
	engine := NewEngine(fake, WithBackOff(zeroBackOff))

	out, err := engine.Generate(context.Background(), Request{
		Prompt:        "q",
		Tools:         []einotool.InvokableTool{loop},
		MaxToolRounds: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "still thinking", out)
	assert.Len(t, fake.inputs, 3)
	assert.EqualValues(t, 2, loop.calls.Load())
}

func TestGenerateRetriesWithinBudget(t *testing.T) {
	t.Parallel()

	transient := errors.New("429 rate limited")

	fake := &fakeToolCallingModel{
		errs:      []error{transient, transient},
		responses: []*schema.Message{schema.AssistantMessage("ok", nil)},
	}
	out, err := NewEngine(fake, WithBackOff(zeroBackOff)).Generate(context.Background(), Request{Prompt: "q", MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, fake.inputs, 3)

	exhausted := &fakeToolCallingModel{
		errs:      []error{transient, transient},
		responses: []*schema.Message{schema.AssistantMessage("ok", nil)},
	}
	_, err = NewEngine(exhausted, WithBackOff(zeroBackOff)).Generate(context.Background(), Request{Prompt: "q", MaxRetries: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, contractx.ErrModelInvoke)
	assert.Len(t, exhausted.inputs, 2)
}

func TestStreamYieldsTextAndCloseCancels(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{chunks: []*schema.Message{
		schema.AssistantMessage("Hel", nil),
		schema.AssistantMessage("", []schema.ToolCall{toolCall("c", "x")}),
		schema.AssistantMessage("lo", nil),
	}}
	engine := NewEngine(fake, WithBackOff(zeroBackOff))

	stream, err := engine.Stream(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", first)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", second)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Error(t, fake.streamCtx.Err())

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamCloseBeforeDrain(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{chunks: []*schema.Message{
		schema.AssistantMessage("a", nil),
		schema.AssistantMessage("b", nil),
	}}
	stream, err := NewEngine(fake).Stream(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)

	_, err = stream.Recv()
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, fake.streamCtx.Err(), context.Canceled)
}
