package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

type ParamKind string

const (
	KindString  ParamKind = "string"
	KindNumber  ParamKind = "number"
	KindBoolean ParamKind = "boolean"
)

type Param struct {
	Name        string    `validate:"required"`
	Kind        ParamKind `validate:"oneof=string number boolean"`
	Description string
	Required    bool
}

// Executor receives the decoded JSON arguments of one tool call.
type Executor func(ctx context.Context, args Args) (any, error)

// ToolSpec declares one tool. A nil Params means the tool declares no
// parameters and is exposed with the permissive default schema.
type ToolSpec struct {
	Name        string   `validate:"required"`
	Description string   `validate:"required"`
	Params      []Param  `validate:"omitempty,unique=Name,dive"`
	Execute     Executor `validate:"required"`
}

type specSet struct {
	Tools []ToolSpec `validate:"unique=Name,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects duplicate tool or parameter names, unknown kinds and
// missing executors.
func Validate(specs []ToolSpec) error {
	if err := validate.Struct(specSet{Tools: specs}); err != nil {
		return fmt.Errorf("%w: tool specs: %v", contractx.ErrValidation, err)
	}
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: tool name is blank", contractx.ErrValidation)
		}
	}
	return nil
}

// Args is the decoded argument object of a tool call.
type Args map[string]any

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int reads a JSON number (or numeric string) and falls back to def.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// RequireString returns the named argument or a tool error when it is blank.
func (a Args) RequireString(key string) (string, error) {
	v := a.String(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
