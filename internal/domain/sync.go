package domain

// SyncState is the orchestrator's externally visible state.
type SyncState string

const (
	StateInitializing SyncState = "initializing"
	StateCatchingUp   SyncState = "catching_up"
	StatePolling      SyncState = "polling"
	StateErrorBackoff SyncState = "error_backoff"
	StateStopped      SyncState = "stopped"
)

// SyncResult summarizes one Sync invocation. Recoverable conditions (skipped
// decode errors, handled reorgs) are reflected in counters rather than
// surfaced as errors.
type SyncResult struct {
	RunID               string    `json:"run_id"`
	FromBlock           uint64    `json:"from_block"`
	ToBlock             uint64    `json:"to_block"`
	BlocksProcessed     uint64    `json:"blocks_processed"`
	FillsWritten        int64     `json:"fills_written"`
	DecodeErrorsSkipped int64     `json:"decode_errors_skipped"`
	ReorgsHandled       int       `json:"reorgs_handled"`
	FinalState          SyncState `json:"final_state"`
}
