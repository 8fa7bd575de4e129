package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

func DispatchHandler(ctx context.Context, in *GraphState, handlers contractx.Registry) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	h, ok := handlers.Handler(in.Decision.HandlerType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrHandlerNotFound, in.Decision.HandlerType)
	}
	in.Handler = h

	if in.Streaming {
		stream, err := h.RespondStream(ctx, in.Query, in.Context)
		if err != nil {
			return nil, err
		}
		in.Stream = stream
		return in, nil
	}

	resp, err := h.Respond(ctx, in.Query, in.Context)
	if err != nil {
		return nil, err
	}
	in.Response = resp
	return in, nil
}
