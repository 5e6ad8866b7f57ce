// Package gateway provides the uniform entry point for every external call
// the pipeline makes. It wraps each call with a timeout, retries transient
// failures with exponential backoff, and guarantees at-most-once dispatch of
// side-effecting calls through an idempotency ledger. The gateway never
// interprets the business meaning of a response.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/redress/internal/gateway")

// Config controls per-call timeout and retry behavior.
type Config struct {
	CallTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the retry policy used when main supplies nothing.
func DefaultConfig() Config {
	return Config{
		CallTimeout:    10 * time.Second,
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Hooks receive per-call observations. Used by main to wire Prometheus.
type Hooks struct {
	OnCall func(tool string, duration float64, attempts int, outcome string)
}

// Gateway dispatches tool calls with retry and idempotency enforcement.
type Gateway struct {
	registry *Registry
	ledger   Ledger
	cfg      Config
	logger   log.Logger
	hooks    Hooks
}

// New creates a Gateway. The ledger is required: side-effecting tools cannot
// be invoked without one.
func New(registry *Registry, ledger Ledger, cfg Config, logger log.Logger, hooks Hooks) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Gateway{
		registry: registry,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
		hooks:    hooks,
	}
}

// Invoke calls the named tool. For side-effecting tools idemKey is
// mandatory: a key whose outcome is already recorded returns the recorded
// response without touching the external service, and a key held by another
// caller fails with ErrInFlight. Transient failures are retried up to the
// configured attempt budget; permanent failures surface immediately.
func (g *Gateway) Invoke(ctx context.Context, toolName string, req json.RawMessage, idemKey string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", toolName),
	))
	defer span.End()

	resp, err := g.invoke(ctx, span, toolName, req, idemKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (g *Gateway) invoke(ctx context.Context, span trace.Span, toolName string, req json.RawMessage, idemKey string) (json.RawMessage, error) {
	start := time.Now()

	tool, ok := g.registry.Get(toolName)
	if !ok {
		return nil, Permanent(toolName, "unknown tool", nil)
	}
	span.SetAttributes(attribute.Bool("tool.side_effecting", tool.SideEffecting()))

	if tool.SideEffecting() {
		if idemKey == "" {
			return nil, Permanent(toolName, "idempotency key required for side-effecting tool", nil)
		}
		prior, reserved, err := g.ledger.Begin(ctx, toolName, idemKey)
		if err != nil {
			return nil, fmt.Errorf("ledger begin %s: %w", toolName, err)
		}
		if prior != nil {
			span.SetAttributes(attribute.Bool("tool.replay", true))
			g.logger.Info(ctx, "idempotent replay, returning recorded response",
				"tool", toolName, "idempotency_key", idemKey)
			if g.hooks.OnCall != nil {
				g.hooks.OnCall(toolName, time.Since(start).Seconds(), 0, "replay")
			}
			return prior, nil
		}
		if !reserved {
			return nil, fmt.Errorf("%s key %s: %w", toolName, idemKey, ErrInFlight)
		}
	}

	resp, attempts, err := g.call(ctx, tool, req)

	if tool.SideEffecting() {
		// ledger bookkeeping uses a fresh context: the call outcome must be
		// recorded even when the caller's deadline has expired.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.CallTimeout)
		defer cancel()
		if err != nil {
			if aerr := g.ledger.Abort(lctx, toolName, idemKey); aerr != nil {
				g.logger.Error(lctx, aerr, "ledger abort failed", "tool", toolName, "idempotency_key", idemKey)
			}
		} else if cerr := g.ledger.Commit(lctx, toolName, idemKey, resp); cerr != nil {
			// The external call succeeded but the record write did not. Surface
			// the error: without a record the at-most-once guarantee is gone.
			return nil, fmt.Errorf("ledger commit %s: %w", toolName, cerr)
		}
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if g.hooks.OnCall != nil {
		g.hooks.OnCall(toolName, time.Since(start).Seconds(), attempts, outcome)
	}
	return resp, err
}

// call runs the tool with per-attempt timeout and transient-error retry.
func (g *Gateway) call(ctx context.Context, tool Tool, req json.RawMessage) (json.RawMessage, int, error) {
	var attempts int

	op := func() (json.RawMessage, error) {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		resp, err := tool.Invoke(cctx, req)
		if err != nil {
			if !IsTransient(err) {
				return nil, backoff.Permanent(err)
			}
			g.logger.Warn(ctx, "transient tool failure, will retry",
				"tool", tool.Name(), "attempt", attempts, "error", err.Error())
			return nil, err
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialBackoff
	bo.MaxInterval = g.cfg.MaxBackoff

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(g.cfg.MaxAttempts)), //nolint:gosec // MaxAttempts validated positive
	)
	if err != nil {
		return nil, attempts, fmt.Errorf("tool %s failed after %d attempt(s): %w", tool.Name(), attempts, err)
	}
	return resp, attempts, nil
}
