package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

func echoSpec(name string, params []Param) ToolSpec {
	return ToolSpec{
		Name:        name,
		Description: "echo " + name,
		Params:      params,
		Execute: func(_ context.Context, args Args) (any, error) {
			return map[string]any{"echo": args.String("orderNumber")}, nil
		},
	}
}

func TestValidateRejectsBadSpecs(t *testing.T) {
	t.Parallel()

	cases := map[string][]ToolSpec{
		"duplicate tool": {echoSpec("a", nil), echoSpec("a", nil)},
		"duplicate param": {echoSpec("a", []Param{
			{Name: "x", Kind: KindString},
			{Name: "x", Kind: KindNumber},
		})},
		"unknown kind":     {echoSpec("a", []Param{{Name: "x", Kind: "date"}})},
		"missing executor": {{Name: "a", Description: "d"}},
		"blank name":       {echoSpec("  ", nil)},
	}
	for name, specs := range cases {
		err := Validate(specs)
		assert.ErrorIs(t, err, contractx.ErrValidation, name)
	}

	require.NoError(t, Validate([]ToolSpec{echoSpec("a", nil), echoSpec("b", []Param{{Name: "x", Kind: KindBoolean}})}))
}

func TestBridgeDeclaredSchema(t *testing.T) {
	t.Parallel()

	spec := echoSpec("lookup", []Param{
		{Name: "orderNumber", Kind: KindString, Description: "order", Required: true},
		{Name: "limit", Kind: KindNumber},
		{Name: "verbose", Kind: KindBoolean},
	})
	tools, err := Bridge([]ToolSpec{spec})
	require.NoError(t, err)
	require.Len(t, tools, 1)

	info, err := tools[0].Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lookup", info.Name)
	assert.Equal(t, "echo lookup", info.Desc)
	assert.NotNil(t, info.ParamsOneOf)

	params := paramInfos(spec)
	require.Len(t, params, 3)
	assert.Equal(t, schema.String, params["orderNumber"].Type)
	assert.True(t, params["orderNumber"].Required)
	assert.Equal(t, "order", params["orderNumber"].Desc)
	assert.Equal(t, schema.Number, params["limit"].Type)
	assert.False(t, params["limit"].Required)
	assert.Equal(t, schema.Boolean, params["verbose"].Type)
}

func TestBridgeDefaultSchemaWhenUndeclared(t *testing.T) {
	t.Parallel()

	params := paramInfos(echoSpec("history", nil))
	require.Len(t, params, 4)
	for _, name := range []string{"orderNumber", "invoiceNumber", "userId"} {
		assert.Equal(t, schema.String, params[name].Type, name)
		assert.False(t, params[name].Required, name)
	}
	assert.Equal(t, schema.Number, params["limit"].Type)

	empty := paramInfos(echoSpec("none", []Param{}))
	assert.Empty(t, empty)
}

func TestBridgedToolReturnsResultVerbatim(t *testing.T) {
	t.Parallel()

	tools, err := Bridge([]ToolSpec{echoSpec("lookup", nil)})
	require.NoError(t, err)

	out, err := tools[0].InvokableRun(context.Background(), `{"orderNumber":"#8829"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"#8829"}`, out)
}

func TestBridgedToolConvertsFailuresToErrorValues(t *testing.T) {
	t.Parallel()

	failing := ToolSpec{
		Name:        "fail",
		Description: "always fails",
		Execute: func(context.Context, Args) (any, error) {
			return nil, errors.New("Order #1 not found")
		},
	}
	panicking := ToolSpec{
		Name:        "panic",
		Description: "always panics",
		Execute: func(context.Context, Args) (any, error) {
			panic("boom")
		},
	}

	tools, err := Bridge([]ToolSpec{failing, panicking})
	require.NoError(t, err)

	out, err := tools[0].InvokableRun(context.Background(), `{}`)
	require.NoError(t, err)
	assert.Equal(t, "Order #1 not found", decodeError(t, out))

	out, err = tools[1].InvokableRun(context.Background(), ``)
	require.NoError(t, err)
	assert.Equal(t, "boom", decodeError(t, out))

	out, err = tools[0].InvokableRun(context.Background(), `{not json`)
	require.NoError(t, err)
	assert.Contains(t, decodeError(t, out), "invalid arguments")
}

func TestArgsHelpers(t *testing.T) {
	t.Parallel()

	args := Args{"s": " x ", "n": float64(7), "ns": "5", "neg": float64(-1)}
	assert.Equal(t, "x", args.String("s"))
	assert.Equal(t, "", args.String("missing"))
	assert.Equal(t, 7, args.Int("n", 10))
	assert.Equal(t, 5, args.Int("ns", 10))
	assert.Equal(t, 10, args.Int("neg", 10))
	assert.Equal(t, 10, args.Int("missing", 10))

	_, err := args.RequireString("missing")
	assert.Error(t, err)
}

func decodeError(t *testing.T, out string) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	return payload["error"]
}
