package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

type modelNamer interface {
	Model() string
}

func Finalize(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Streaming && in.Stream == nil {
		return GraphOutput{}, fmt.Errorf("%w: handler returned no stream", contractx.ErrValidation)
	}

	out := GraphOutput{
		Decision: in.Decision,
		Response: in.Response,
		Stream:   in.Stream,
		UserTier: in.Context.UserTier,
	}
	if m, ok := in.Handler.(modelNamer); ok {
		out.Model = m.Model()
	}
	return out, nil
}
