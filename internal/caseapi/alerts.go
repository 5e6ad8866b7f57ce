package caseapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/authmw"
	"github.com/linnemanlabs/redress/internal/pipeline"
)

// submitTimeout bounds the detached pipeline run kicked off by a submission.
const submitTimeout = 5 * time.Minute

func (a *API) handleSubmitAlert(w http.ResponseWriter, r *http.Request) {
	var al alert.Alert
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		a.submitResult("bad_payload")
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if err := al.Validate(); err != nil {
		a.submitResult("invalid")
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	if al.ReceivedAt.IsZero() {
		al.ReceivedAt = time.Now().UTC()
	}

	// Fast duplicate path: an already-settled alert gets its case back
	// without spawning anything.
	if existing, ok, err := a.svc.LookupByAlertKey(r.Context(), al.Key()); err == nil && ok &&
		existing.Stage != pipeline.StageFailed {
		a.submitResult("duplicate")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(submitResponse(existing))
		return
	}

	// The pipeline outlives the request: detach from the request context
	// so a client disconnect cannot abandon side effects mid-flight.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), submitTimeout)
	go func() {
		defer cancel()
		if _, err := a.svc.Process(pctx, &al); err != nil {
			a.logger.Error(pctx, err, "alert processing failed",
				"transcript_id", al.TranscriptID, "customer_id", al.CustomerID)
		}
	}()

	a.submitResult("accepted")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted":      true,
		"transcript_id": al.TranscriptID,
		"customer_id":   al.CustomerID,
		"token":         al.Token(),
	})
}

func (a *API) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	approver := authmw.Principal(r.Context())
	if approver == "" {
		approver = "unknown"
	}

	c, err := a.svc.Approve(r.Context(), id, req.Approved, approver)
	if err != nil {
		if c == nil {
			a.logger.Warn(r.Context(), "approval rejected", "case_id", id, "error", err.Error())
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
			return
		}
		// Case exists but the approved action failed; the Failed case is
		// the answer, not a 5xx.
		a.logger.Error(r.Context(), err, "approved action failed", "case_id", id)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

func (a *API) submitResult(result string) {
	if a.OnSubmit != nil {
		a.OnSubmit(result)
	}
}

func submitResponse(c *pipeline.CaseRecord) map[string]any {
	return map[string]any{
		"accepted":  false,
		"duplicate": true,
		"case_id":   c.ID,
		"stage":     c.Stage,
	}
}
