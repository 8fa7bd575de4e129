package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

// Classify records the routing decision. The classifier absorbs its own
// engine failures, so this node only fails on a nil state.
func Classify(ctx context.Context, in *GraphState, classifier contractx.Classifier) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Decision = classifier.Classify(ctx, in.Query, in.Context)
	return in, nil
}
