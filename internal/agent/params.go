package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"review-gateway/internal/paramstore"
)

// ResolveIDs reads the agent and alias ids from SSM under prefix
// (<prefix>/agent_id and <prefix>/agent_alias_id).
func ResolveIDs(ctx context.Context, params paramstore.Getter, prefix string) (agentID, aliasID string, err error) {
	if params == nil {
		return "", "", errors.New("agent: param getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", "", errors.New("agent: parameter prefix must not be empty")
	}

	idName := prefix + "/agent_id"
	aliasName := prefix + "/agent_alias_id"
	values, err := params.GetParameters(ctx, idName, aliasName)
	if err != nil {
		return "", "", fmt.Errorf("agent: load ids: %w", err)
	}
	return values[idName], values[aliasName], nil
}
