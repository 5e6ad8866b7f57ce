package memledger

import (
	"context"
	"encoding/json"
	"testing"
)

func TestBeginReservesKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	prior, reserved, err := l.Begin(ctx, "payment", "k1")
	if err != nil || prior != nil || !reserved {
		t.Fatalf("Begin = (%s, %t, %v), want fresh reservation", prior, reserved, err)
	}

	// A second caller may not take the same key while it is held.
	prior, reserved, err = l.Begin(ctx, "payment", "k1")
	if err != nil || prior != nil || reserved {
		t.Errorf("Begin held key = (%s, %t, %v), want no reservation", prior, reserved, err)
	}
}

func TestKeysAreScopedByTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	if _, reserved, _ := l.Begin(ctx, "payment", "k1"); !reserved {
		t.Fatal("payment reservation failed")
	}
	if _, reserved, _ := l.Begin(ctx, "shipping", "k1"); !reserved {
		t.Error("same key under a different tool should be independent")
	}
}

func TestCommitRecordsResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	if _, reserved, _ := l.Begin(ctx, "payment", "k1"); !reserved {
		t.Fatal("reservation failed")
	}
	resp := json.RawMessage(`{"transaction_id":"tx-1"}`)
	if err := l.Commit(ctx, "payment", "k1", resp); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	prior, reserved, err := l.Begin(ctx, "payment", "k1")
	if err != nil || reserved {
		t.Fatalf("Begin after commit = (reserved %t, %v)", reserved, err)
	}
	if string(prior) != string(resp) {
		t.Errorf("prior = %s, want %s", prior, resp)
	}
}

func TestCommitCopiesResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	_, _, _ = l.Begin(ctx, "payment", "k1")
	resp := json.RawMessage(`{"transaction_id":"tx-1"}`)
	if err := l.Commit(ctx, "payment", "k1", resp); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	resp[0] = 'X'

	prior, _, _ := l.Begin(ctx, "payment", "k1")
	if string(prior) != `{"transaction_id":"tx-1"}` {
		t.Errorf("recorded response aliased caller's buffer: %s", prior)
	}
}

func TestAbortReleasesReservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	_, _, _ = l.Begin(ctx, "payment", "k1")
	if err := l.Abort(ctx, "payment", "k1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if _, reserved, _ := l.Begin(ctx, "payment", "k1"); !reserved {
		t.Error("aborted key should be reservable again")
	}
}

func TestAbortKeepsCommittedRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New()

	_, _, _ = l.Begin(ctx, "payment", "k1")
	if err := l.Commit(ctx, "payment", "k1", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Abort(ctx, "payment", "k1"); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	prior, _, _ := l.Begin(ctx, "payment", "k1")
	if string(prior) != `{"ok":true}` {
		t.Errorf("committed record lost after abort: %s", prior)
	}
}
