// Package oracle defines the decision-oracle contract: an external,
// non-deterministic function mapping a prompt plus a schema of callable
// actions to exactly one chosen action with structured arguments.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoDecision is returned when the oracle responds without a usable
// tool call. Callers treat it as "the agent chose to do nothing": the
// current decision step is abandoned, nothing is retried.
var ErrNoDecision = errors.New("oracle returned no decision")

// ToolSpec describes one callable action offered to the oracle.
// Parameters is a JSON-schema object.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is the oracle's chosen action with its raw argument payload.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Provider is the decision oracle. Transport and auth failures surface
// as errors; a well-formed response with no tool call maps to
// ErrNoDecision.
type Provider interface {
	Complete(ctx context.Context, systemPrompt string, tools []ToolSpec, temperature float64) (ToolCall, error)
}
