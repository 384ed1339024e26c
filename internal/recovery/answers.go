package recovery

import (
	"context"

	"github.com/starford/lcca/internal/storage"
)

// Answers is a Prompter whose replies are known up front, as when an API
// client submits the whole dialog in one request.
type Answers struct {
	ForceOpen bool
	// Checkpoint is the filename to restore. Latest picks the most recent
	// entry instead.
	Checkpoint   string
	Latest       bool
	Gate         GateChoice
	SnapshotName string
	// NameSnapshot confirms the snapshot name prompt; false declines it.
	NameSnapshot bool
}

var _ Prompter = Answers{}

func (a Answers) ConfirmForceOpen(context.Context, string, storage.LockInfo) bool {
	return a.ForceOpen
}

func (a Answers) ChooseCheckpoint(_ context.Context, cps []storage.Checkpoint) (int, bool) {
	if a.Latest && len(cps) > 0 {
		return 0, true
	}
	for i, cp := range cps {
		if cp.Filename == a.Checkpoint {
			return i, true
		}
	}
	return 0, false
}

func (a Answers) SafetyGate(context.Context) GateChoice { return a.Gate }

func (a Answers) SafetyCheckpointName(context.Context) (string, bool) {
	return a.SnapshotName, a.NameSnapshot
}
