package gateway

import (
	"context"
	"encoding/json"
)

// Ledger is the durable record of side-effecting calls, keyed by
// (tool, idempotency key). It is what turns retried deliveries into replays
// instead of duplicate side effects.
type Ledger interface {
	// Begin attempts to reserve the key for this caller.
	//   prior != nil            → the call already completed; prior is its
	//                             recorded response and no reservation is taken.
	//   prior == nil, reserved  → this caller owns the key and must Commit
	//                             or Abort.
	//   prior == nil, !reserved → another caller holds the reservation.
	Begin(ctx context.Context, tool, key string) (prior json.RawMessage, reserved bool, err error)

	// Commit records the response for a reserved key. After Commit, Begin
	// returns the response forever.
	Commit(ctx context.Context, tool, key string, resp json.RawMessage) error

	// Abort releases a reservation without recording a response, allowing a
	// later attempt to try again.
	Abort(ctx context.Context, tool, key string) error
}
