package domain

import "time"

// Checkpoint is the durable marker of indexing progress for one chain scope.
// LastSyncedBlock never exceeds the observed chain head minus the configured
// confirmation depth at the time it was written; it only decreases on an
// explicit reorg rollback.
type Checkpoint struct {
	ChainID             int64
	LastSyncedBlock     uint64
	LastSyncedBlockHash string
	UpdatedAt           time.Time
}
