package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

// ResolveTier fills the user tier. Lookup failures and anonymous requests
// fall back to the default tier.
func ResolveTier(ctx context.Context, in *GraphState, tiers contractx.TierResolver) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Context.UserTier = lookupTier(ctx, in.Context.UserID, tiers)
	return in, nil
}

func lookupTier(ctx context.Context, userID string, tiers contractx.TierResolver) string {
	if userID == "" || tiers == nil {
		return contractx.DefaultUserTier
	}
	tier, err := tiers.LookupUserTier(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("user tier lookup failed, using default")
		return contractx.DefaultUserTier
	}
	if tier = strings.TrimSpace(tier); tier == "" {
		return contractx.DefaultUserTier
	}
	return tier
}
