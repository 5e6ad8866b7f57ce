// Package redisledger provides a Redis-backed implementation of
// gateway.Ledger. Reservations are taken with SETNX so that only one worker
// can dispatch a given (tool, idempotency key) pair, and committed responses
// are kept so redeliveries replay the recorded outcome instead of re-calling
// the provider.
package redisledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// pendingVal marks a reservation with no recorded outcome yet.
	pendingVal = "__pending__"

	// reservationTTL bounds how long a crashed worker can hold a key.
	reservationTTL = 10 * time.Minute

	// recordTTL is how long committed responses are retained for replay.
	recordTTL = 90 * 24 * time.Hour
)

// Ledger records side-effect outcomes in Redis.
type Ledger struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Ledger on the given client. keyPrefix namespaces the keys,
// e.g. "redress:idem".
func New(rdb *redis.Client, keyPrefix string) *Ledger {
	if keyPrefix == "" {
		keyPrefix = "redress:idem"
	}
	return &Ledger{rdb: rdb, prefix: keyPrefix}
}

func (l *Ledger) key(tool, key string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, tool, key)
}

// Begin reserves the key with SETNX, or returns the committed response.
func (l *Ledger) Begin(ctx context.Context, tool, key string) (json.RawMessage, bool, error) {
	k := l.key(tool, key)

	ok, err := l.rdb.SetNX(ctx, k, pendingVal, reservationTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", k, err)
	}
	if ok {
		return nil, true, nil
	}

	val, err := l.rdb.Get(ctx, k).Result()
	if err == redis.Nil {
		// Reservation expired between SETNX and GET. Treat as held; the
		// caller retries the whole operation later.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", k, err)
	}
	if val == pendingVal {
		return nil, false, nil
	}
	return json.RawMessage(val), false, nil
}

// Commit replaces the pending marker with the recorded response.
func (l *Ledger) Commit(ctx context.Context, tool, key string, resp json.RawMessage) error {
	k := l.key(tool, key)
	if err := l.rdb.Set(ctx, k, string(resp), recordTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", k, err)
	}
	return nil
}

// Abort drops the reservation so a later attempt can reserve again. Only a
// pending marker is deleted; a committed record is never removed.
func (l *Ledger) Abort(ctx context.Context, tool, key string) error {
	k := l.key(tool, key)

	// DEL only if still pending, atomically.
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`
	if err := l.rdb.Eval(ctx, script, []string{k}, pendingVal).Err(); err != nil {
		return fmt.Errorf("abort %s: %w", k, err)
	}
	return nil
}
