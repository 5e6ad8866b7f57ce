package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/redress/internal/alert"
)

// StageTimeouts bound each stage's wall time. An expired deadline is a
// stage failure.
type StageTimeouts struct {
	Triage   time.Duration
	Solution time.Duration
	Action   time.Duration
}

// DefaultStageTimeouts returns the timeouts used when main supplies nothing.
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Triage:   30 * time.Second,
		Solution: 60 * time.Second,
		Action:   120 * time.Second,
	}
}

// Hooks receive pipeline observations. Used by main to wire Prometheus.
type Hooks struct {
	OnStage     func(stage string, seconds float64, ok bool)
	OnCase      func(final Stage, seconds float64)
	OnDuplicate func()
	OnAction    func(action ActionType, outcome string)
}

// Orchestrator owns the case state machine: it creates the case, drives it
// through triage, solution, and action, persists every transition before
// advancing, and enforces the duplicate/idempotency discipline. It is the
// only writer of a CaseRecord.
type Orchestrator struct {
	store    CaseStore
	triage   *TriageStage
	solution *SolutionStage
	action   *ActionStage
	audit    AuditSink // may be nil
	notifier Notifier  // may be nil
	timeouts StageTimeouts
	logger   log.Logger
	hooks    Hooks
}

// NewOrchestrator wires the pipeline. audit and notifier may be nil.
func NewOrchestrator(store CaseStore, tr *TriageStage, so *SolutionStage, ac *ActionStage,
	audit AuditSink, notifier Notifier, timeouts StageTimeouts, logger log.Logger, hooks Hooks) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	if timeouts.Triage <= 0 {
		timeouts = DefaultStageTimeouts()
	}
	return &Orchestrator{
		store:    store,
		triage:   tr,
		solution: so,
		action:   ac,
		audit:    audit,
		notifier: notifier,
		timeouts: timeouts,
		logger:   logger,
		hooks:    hooks,
	}
}

// Process handles one alert delivery. Redelivery of an alert whose key
// already has a non-Failed case returns the existing case without invoking
// any stage; a Failed case is resumed. Returns the case in its final state
// for this invocation, plus the stage error when it ended in Failed.
func (o *Orchestrator) Process(ctx context.Context, al *alert.Alert) (*CaseRecord, error) {
	if err := al.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alert: %w", err)
	}
	if al.ReceivedAt.IsZero() {
		al.ReceivedAt = time.Now().UTC()
	}

	L := o.logger.With("transcript_id", al.TranscriptID, "customer_id", al.CustomerID)

	existing, ok, err := o.store.GetByAlertKey(ctx, al.Key())
	if err != nil {
		return nil, fmt.Errorf("case lookup: %w", err)
	}
	if ok && existing.Stage != StageFailed {
		L.Info(ctx, "duplicate alert delivery, returning existing case",
			"case_id", existing.ID, "stage", string(existing.Stage))
		if o.hooks.OnDuplicate != nil {
			o.hooks.OnDuplicate()
		}
		return existing, nil
	}

	var cr *CaseRecord
	if ok {
		// Failed cases are retryable: resume from the top with the audit
		// trail intact.
		cr = existing
		cr.Transition(StageReceived, "retry after failure")
		if err := o.store.Update(ctx, cr); err != nil {
			return nil, fmt.Errorf("persist retry transition: %w", err)
		}
		L.Info(ctx, "retrying failed case", "case_id", cr.ID)
	} else {
		now := time.Now().UTC()
		cr = &CaseRecord{
			ID:        ulid.Make().String(),
			Alert:     *al,
			Stage:     StageReceived,
			Token:     al.Token(),
			CreatedAt: now,
			UpdatedAt: now,
			Audit:     []Transition{{To: StageReceived, At: now, Note: "alert received"}},
		}
		if err := o.store.Create(ctx, cr); err != nil {
			if errors.Is(err, ErrDuplicateCase) {
				// Lost the create race: whoever won owns the case.
				again, ok2, err2 := o.store.GetByAlertKey(ctx, al.Key())
				if err2 == nil && ok2 {
					if o.hooks.OnDuplicate != nil {
						o.hooks.OnDuplicate()
					}
					return again, nil
				}
			}
			return nil, fmt.Errorf("create case: %w", err)
		}
		L.Info(ctx, "case opened", "case_id", cr.ID)
	}

	return o.run(ctx, cr)
}

// Lookup retrieves a case by ID.
func (o *Orchestrator) Lookup(ctx context.Context, id string) (*CaseRecord, bool, error) {
	return o.store.Get(ctx, id)
}

// LookupByAlertKey retrieves the case for an alert identity key.
func (o *Orchestrator) LookupByAlertKey(ctx context.Context, key string) (*CaseRecord, bool, error) {
	return o.store.GetByAlertKey(ctx, key)
}

// Resume continues a non-terminal case from its last persisted stage.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*CaseRecord, error) {
	cr, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("case %s not found", id)
	}
	if cr.Stage.Terminal() || cr.Stage == StagePendingApproval {
		return cr, nil
	}
	return o.run(ctx, cr)
}

// RecoverInFlight resumes every case left mid-pipeline by a previous
// process. Called at startup, before new alerts are accepted.
func (o *Orchestrator) RecoverInFlight(ctx context.Context) error {
	inflight, err := o.store.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished cases: %w", err)
	}
	for _, cr := range inflight {
		o.logger.Info(ctx, "resuming case after restart", "case_id", cr.ID, "stage", string(cr.Stage))
		if _, err := o.run(ctx, cr); err != nil {
			o.logger.Error(ctx, err, "case resume ended in failure", "case_id", cr.ID)
		}
	}
	return nil
}

// run advances the state machine until a stopping state. Every transition
// is durably persisted before the next stage runs; completed stages are
// never re-run within one record's lifecycle.
func (o *Orchestrator) run(ctx context.Context, cr *CaseRecord) (*CaseRecord, error) {
	L := o.logger.With("case_id", cr.ID)
	var cc *CaseContext

	for {
		switch cr.Stage {
		case StageReceived:
			verdict, err := timedStage(o, ctx, "triage", o.timeouts.Triage, func(sctx context.Context) (*TriageVerdict, error) {
				return o.triage.Run(sctx, &cr.Alert)
			})
			if err != nil {
				return o.fail(ctx, cr, "triage", err)
			}
			cr.Verdict = verdict
			if !verdict.Escalate {
				cr.Transition(StageSuppressed, verdict.Reason)
				if err := o.persist(ctx, cr); err != nil {
					return cr, err
				}
				o.finish(ctx, cr)
				return cr, nil
			}
			cr.Transition(StageTriaged, verdict.Reason)
			if err := o.persist(ctx, cr); err != nil {
				return cr, err
			}

		case StageTriaged:
			type solved struct {
				sols []Solution
				cc   *CaseContext
			}
			out, err := timedStage(o, ctx, "solution", o.timeouts.Solution, func(sctx context.Context) (*solved, error) {
				sols, scc, err := o.solution.Run(sctx, &cr.Alert, cr.Verdict)
				if err != nil {
					return nil, err
				}
				return &solved{sols: sols, cc: scc}, nil
			})
			if err != nil {
				return o.fail(ctx, cr, "solution", err)
			}
			cr.Solutions = out.sols
			cc = out.cc
			cr.Transition(StageSolved, fmt.Sprintf("%d solution(s) ranked, top %s", len(out.sols), out.sols[0].ActionType))
			if err := o.persist(ctx, cr); err != nil {
				return cr, err
			}

		case StageSolved:
			if cc == nil {
				cc = o.readView(cr)
			}
			res, err := timedStage(o, ctx, "action", o.timeouts.Action, func(sctx context.Context) (*ActionResult, error) {
				return o.action.Run(sctx, cc, cr.Solutions)
			})
			var approval *ApprovalRequiredError
			if errors.As(err, &approval) {
				cr.Transition(StagePendingApproval, approval.Error())
				if perr := o.persist(ctx, cr); perr != nil {
					return cr, perr
				}
				L.Info(ctx, "case parked for human approval",
					"action", string(approval.Solution.ActionType),
					"authority", approval.Solution.AuthorityLevel)
				o.notifyAttention(ctx, cr)
				return cr, nil
			}
			if err != nil {
				return o.fail(ctx, cr, "action", err)
			}
			cr.Result = res
			if o.hooks.OnAction != nil && res.ExecutedSolution != nil {
				o.hooks.OnAction(res.ExecutedSolution.ActionType, res.Outcome)
			}
			cr.Transition(StageActed, fmt.Sprintf("executed %s (%s)", res.ExecutedSolution.ActionType, res.Outcome))
			if err := o.persist(ctx, cr); err != nil {
				return cr, err
			}

		case StageActed:
			cr.Transition(StageClosed, "resolution complete")
			if err := o.persist(ctx, cr); err != nil {
				return cr, err
			}
			o.finish(ctx, cr)
			L.Info(ctx, "case closed",
				"outcome", cr.Result.Outcome,
				"action", string(cr.Result.ExecutedSolution.ActionType),
			)
			return cr, nil

		default:
			// Terminal or pending-approval: nothing to drive.
			return cr, nil
		}
	}
}

// Approve records an external approval decision for a PendingApproval case.
// Approved: the held solution executes under the same idempotency
// discipline. Rejected: the case closes with a no-action outcome.
func (o *Orchestrator) Approve(ctx context.Context, caseID string, approved bool, approver string) (*CaseRecord, error) {
	cr, ok, err := o.store.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("case %s not found", caseID)
	}
	if cr.Stage != StagePendingApproval {
		return nil, fmt.Errorf("case %s is %s, not pending approval", caseID, cr.Stage)
	}
	sol := cr.PendingSolution()
	if sol == nil {
		return nil, fmt.Errorf("case %s has no solution awaiting approval", caseID)
	}

	if !approved {
		cr.Result = &ActionResult{
			ExecutedSolution:    &Solution{ActionType: ActionNone, Reason: "approval denied"},
			CommunicationStatus: "skipped",
			Outcome:             OutcomeSuccess,
		}
		cr.Transition(StageClosed, "approval denied by "+approver)
		if err := o.persist(ctx, cr); err != nil {
			return cr, err
		}
		o.finish(ctx, cr)
		return cr, nil
	}

	cc := o.readView(cr)
	res, err := timedStage(o, ctx, "action", o.timeouts.Action, func(sctx context.Context) (*ActionResult, error) {
		return o.action.Execute(sctx, cc, sol)
	})
	if err != nil {
		return o.fail(ctx, cr, "action", err)
	}
	cr.Result = res
	if o.hooks.OnAction != nil {
		o.hooks.OnAction(sol.ActionType, res.Outcome)
	}
	cr.Transition(StageActed, "approved by "+approver)
	if err := o.persist(ctx, cr); err != nil {
		return cr, err
	}
	return o.run(ctx, cr)
}

// readView rebuilds the stage read view from persisted state, for resumed
// cases and approval execution.
func (o *Orchestrator) readView(cr *CaseRecord) *CaseContext {
	cc := &CaseContext{
		Alert: cr.Alert,
		Token: cr.Token,
	}
	if cr.Verdict != nil {
		cc.Verdict = *cr.Verdict
	}
	return cc
}

// timedStage runs fn under the stage deadline and reports duration hooks.
func timedStage[T any](o *Orchestrator, ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := fn(sctx)
	if o.hooks.OnStage != nil {
		o.hooks.OnStage(name, time.Since(start).Seconds(), err == nil)
	}
	return out, err
}

// persist writes the case, enforcing the single-writer discipline.
func (o *Orchestrator) persist(ctx context.Context, cr *CaseRecord) error {
	cr.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, cr); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			o.logger.Error(ctx, err, "concurrent writer detected, abandoning case advance", "case_id", cr.ID)
		}
		return fmt.Errorf("persist case %s: %w", cr.ID, err)
	}
	return nil
}

// fail transitions the case to Failed with the aggregated cause.
func (o *Orchestrator) fail(ctx context.Context, cr *CaseRecord, stage string, cause error) (*CaseRecord, error) {
	sf := &StageFailure{Stage: cr.Stage, Err: cause}
	o.logger.Error(ctx, cause, "stage failed irrecoverably", "case_id", cr.ID, "stage", stage)

	cr.Transition(StageFailed, fmt.Sprintf("%s: %v", stage, cause))
	if err := o.persist(ctx, cr); err != nil {
		return cr, errors.Join(sf, err)
	}
	o.finish(ctx, cr)
	o.notifyAttention(ctx, cr)
	return cr, sf
}

// finish emits the audit record and final-state metrics for a case that
// reached a terminal state. Emission uses a detached context: a canceled
// request must not lose the audit trail.
func (o *Orchestrator) finish(ctx context.Context, cr *CaseRecord) {
	if o.hooks.OnCase != nil {
		o.hooks.OnCase(cr.Stage, time.Since(cr.CreatedAt).Seconds())
	}
	if o.audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.audit.Emit(actx, NewAuditRecord(cr)); err != nil {
			o.logger.Error(actx, err, "audit emit failed", "case_id", cr.ID)
		}
	}
}

func (o *Orchestrator) notifyAttention(ctx context.Context, cr *CaseRecord) {
	if o.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.notifier.Send(nctx, cr); err != nil {
		o.logger.Warn(nctx, "attention notification failed", "case_id", cr.ID, "error", err.Error())
	}
}
