package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
	observex "github.com/tanpawarit/relay-support-router/agent/observability"
)

var tracer = observex.Tracer("tool")

// defaultParams is the schema for tools that declare no parameters.
func defaultParams() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"orderNumber":   {Type: schema.String, Desc: "Order number, e.g. #8829"},
		"invoiceNumber": {Type: schema.String, Desc: "Invoice number, e.g. INV-2024-001"},
		"userId":        {Type: schema.String, Desc: "User identifier"},
		"limit":         {Type: schema.Number, Desc: "Maximum number of records to return"},
	}
}

type bridgedTool struct {
	spec ToolSpec
	info *schema.ToolInfo
}

var _ einotool.InvokableTool = (*bridgedTool)(nil)

// Bridge validates specs and turns each one into an engine tool. Executor
// failures never escape as Go errors; they become {"error": "..."} results.
func Bridge(specs []ToolSpec) ([]einotool.InvokableTool, error) {
	if err := Validate(specs); err != nil {
		return nil, err
	}
	out := make([]einotool.InvokableTool, 0, len(specs))
	for _, s := range specs {
		out = append(out, &bridgedTool{spec: s, info: toolInfo(s)})
	}
	return out, nil
}

func toolInfo(s ToolSpec) *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        s.Name,
		Desc:        s.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(paramInfos(s)),
	}
}

func paramInfos(s ToolSpec) map[string]*schema.ParameterInfo {
	if s.Params == nil {
		return defaultParams()
	}
	params := make(map[string]*schema.ParameterInfo, len(s.Params))
	for _, p := range s.Params {
		params[p.Name] = &schema.ParameterInfo{
			Type:     dataType(p.Kind),
			Desc:     p.Description,
			Required: p.Required,
		}
	}
	return params
}

func dataType(k ParamKind) schema.DataType {
	switch k {
	case KindNumber:
		return schema.Number
	case KindBoolean:
		return schema.Boolean
	default:
		return schema.String
	}
}

func (b *bridgedTool) Info(context.Context) (*schema.ToolInfo, error) {
	return b.info, nil
}

func (b *bridgedTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	ctx, span := tracer.Start(ctx, "tool."+b.spec.Name)
	defer span.End()

	args := Args{}
	if raw := strings.TrimSpace(argumentsInJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return b.fail(span, observex.OutcomeError, fmt.Errorf("invalid arguments: %v", err)), nil
		}
	}

	result, outcome, err := b.execute(ctx, args)
	if err != nil {
		return b.fail(span, outcome, err), nil
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return b.fail(span, observex.OutcomeError, fmt.Errorf("encode result: %v", err)), nil
	}

	observex.ToolCalls.WithLabelValues(b.spec.Name, observex.OutcomeSuccess).Inc()
	return string(encoded), nil
}

func (b *bridgedTool) execute(ctx context.Context, args Args) (result any, outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, outcome, err = nil, observex.OutcomePanic, fmt.Errorf("%v", r)
		}
	}()
	result, err = b.spec.Execute(ctx, args)
	return result, observex.OutcomeError, err
}

func (b *bridgedTool) fail(span trace.Span, outcome string, err error) string {
	wrapped := fmt.Errorf("%w: tool=%s: %v", contractx.ErrToolExecution, b.spec.Name, err)
	log.Warn().Err(wrapped).Str("tool", b.spec.Name).Str("outcome", outcome).Msg("tool execution failed")

	span.RecordError(wrapped)
	span.SetStatus(codes.Error, outcome)
	span.SetAttributes(attribute.String("tool.outcome", outcome))
	observex.ToolCalls.WithLabelValues(b.spec.Name, outcome).Inc()

	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(payload)
}
