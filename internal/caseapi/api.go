// Package caseapi exposes the HTTP surface of the resolution pipeline:
// alert submission, case retrieval, and approval decisions.
package caseapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/redress/internal/alert"
	"github.com/linnemanlabs/redress/internal/pipeline"
)

// PipelineService defines the business operations caseapi needs.
type PipelineService interface {
	Process(ctx context.Context, al *alert.Alert) (*pipeline.CaseRecord, error)
	Approve(ctx context.Context, caseID string, approved bool, approver string) (*pipeline.CaseRecord, error)
	Lookup(ctx context.Context, id string) (*pipeline.CaseRecord, bool, error)
	LookupByAlertKey(ctx context.Context, key string) (*pipeline.CaseRecord, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    PipelineService

	// OnSubmit, when set, observes each submission result for metrics.
	OnSubmit func(result string)
}

// New creates a new API handler.
func New(logger log.Logger, svc PipelineService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleSubmitAlert)
		r.Get("/cases", a.handleFindCase)
		r.Get("/cases/{id}", a.handleGetCase)
		r.Post("/cases/{id}/approval", a.handleApproval)
	})
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("redress.case.id", id))

	c, ok, err := a.svc.Lookup(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get case", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("redress.case.stage", string(c.Stage)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

func (a *API) handleFindCase(w http.ResponseWriter, r *http.Request) {
	transcriptID := r.URL.Query().Get("transcript_id")
	customerID := r.URL.Query().Get("customer_id")
	if transcriptID == "" || customerID == "" {
		http.Error(w, `{"error":"transcript_id and customer_id are required"}`, http.StatusBadRequest)
		return
	}

	key := (&alert.Alert{TranscriptID: transcriptID, CustomerID: customerID}).Key()
	c, ok, err := a.svc.LookupByAlertKey(r.Context(), key)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to find case", "alert_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}
