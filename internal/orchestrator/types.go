package orchestrator

import (
	"encoding/json"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

// State is a step of a run's state machine:
// idle -> discovering -> (batch_planning | single_planning) -> executing -> done | failed.
type State string

const (
	StateIdle           State = "idle"
	StateDiscovering    State = "discovering"
	StateBatchPlanning  State = "batch_planning"
	StateSinglePlanning State = "single_planning"
	StateExecuting      State = "executing"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Strategy is how a run executes its tools.
type Strategy string

const (
	StrategySingle Strategy = "single"
	StrategyBatch  Strategy = "batch"
)

// Options are per-orchestrator pass-through settings.
type Options struct {
	// Transactional is forwarded on batch execution. It is never inferred.
	Transactional bool
	// TrustBackendOrder keeps discovery matches in backend order instead of
	// sorting them by descending confidence.
	TrustBackendOrder bool
}

// Result is the outcome of a successful run.
type Result struct {
	RunID      string               `json:"runId"`
	Strategy   Strategy             `json:"strategy"`
	Server     string               `json:"server"`
	Operations []protocol.Operation `json:"operations"`
	Payload    json.RawMessage      `json:"payload"`
}
