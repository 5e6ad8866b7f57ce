package pipeline

import (
	"errors"
	"fmt"
)

// StageFailure wraps an irrecoverable stage error: exhausted retries, a
// permanent tool error, or a stage deadline. The orchestrator converts it to
// a Failed case.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// ApprovalRequiredError is returned by the action stage when the top
// solution's authority exceeds the execution ceiling. Not a failure: the
// orchestrator parks the case in PendingApproval.
type ApprovalRequiredError struct {
	Solution Solution
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("solution %s (rank %d, authority %d) requires human approval",
		e.Solution.ActionType, e.Solution.Rank, e.Solution.AuthorityLevel)
}

// Store errors.
var (
	// ErrDuplicateCase means a case for the alert key already exists.
	ErrDuplicateCase = errors.New("case already exists for alert key")

	// ErrVersionConflict means another writer advanced the case since it
	// was read. The single-writer discipline forbids blind overwrite.
	ErrVersionConflict = errors.New("case version conflict")
)
