// Package memledger provides an in-memory implementation of gateway.Ledger.
// Suitable for dev/testing; reservations do not survive a restart.
package memledger

import (
	"context"
	"encoding/json"
	"sync"
)

type entry struct {
	committed bool
	resp      json.RawMessage
}

// Ledger holds idempotency records in memory.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry // "tool\x00key" -> entry
}

// New initializes an empty in-memory Ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

func ledgerKey(tool, key string) string { return tool + "\x00" + key }

// Begin reserves the key, or returns the recorded response if committed.
func (l *Ledger) Begin(_ context.Context, tool, key string) (json.RawMessage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ledgerKey(tool, key)]
	if !ok {
		l.entries[ledgerKey(tool, key)] = &entry{}
		return nil, true, nil
	}
	if e.committed {
		return e.resp, false, nil
	}
	return nil, false, nil
}

// Commit records the response for a reserved key.
func (l *Ledger) Commit(_ context.Context, tool, key string, resp json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make(json.RawMessage, len(resp))
	copy(cp, resp)
	l.entries[ledgerKey(tool, key)] = &entry{committed: true, resp: cp}
	return nil
}

// Abort releases a reservation that never committed.
func (l *Ledger) Abort(_ context.Context, tool, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[ledgerKey(tool, key)]; ok && !e.committed {
		delete(l.entries, ledgerKey(tool, key))
	}
	return nil
}
