package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/covecrm/cove/internal/eventbus"
	"github.com/covecrm/cove/internal/pipeline/model"
	"github.com/covecrm/cove/internal/pipeline/persistence"
	"github.com/covecrm/cove/internal/pipeline/service"
	"github.com/covecrm/cove/internal/timeline"
)

// PipelineRouter exposes the stage-move entry point and the thin deal
// surfaces that produce domain events.
type PipelineRouter struct {
	executor *service.TransitionExecutor
	store    *persistence.Store
	recorder timeline.Recorder
	bus      eventbus.Publisher
	logger   *slog.Logger
}

func NewPipelineRouter(
	executor *service.TransitionExecutor,
	store *persistence.Store,
	recorder timeline.Recorder,
	bus eventbus.Publisher,
	logger *slog.Logger,
) *PipelineRouter {
	return &PipelineRouter{
		executor: executor,
		store:    store,
		recorder: recorder,
		bus:      bus,
		logger:   logger.With("module", "pipeline_router"),
	}
}

// HandleStageMove handles POST /api/deals/{dealID}/stage-moves requests.
// The response always carries the gate evaluation, whether or not the
// move was applied.
func (pr *PipelineRouter) HandleStageMove(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(r.PathValue("dealID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid dealID: %v", err), http.StatusBadRequest)
		return
	}

	var req model.StageMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.TargetStageOrder < 1 {
		http.Error(w, "targetStageOrder must be a positive stage order", http.StatusBadRequest)
		return
	}

	result, err := pr.executor.ApplyMove(r.Context(), dealID, req)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrOverrideReasonRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, model.ErrVersionConflict):
		http.Error(w, "deal was modified concurrently, retry the move", http.StatusConflict)
		return
	case persistence.IsNotFound(err):
		http.Error(w, fmt.Sprintf("deal %s not found", dealID), http.StatusNotFound)
		return
	default:
		pr.logger.Error("stage move failed", "deal_id", dealID, "error", err)
		http.Error(w, "stage move failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleCreateDeal handles POST /api/tenants/{tenantID}/deals requests.
// Record CRUD is deliberately thin here; the surface exists to publish
// RECORD_CREATED events into the automation engine.
func (pr *PipelineRouter) HandleCreateDeal(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("tenantID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantID: %v", err), http.StatusBadRequest)
		return
	}

	var req model.CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	deal := &model.Deal{
		TenantID:         tenantID,
		Name:             req.Name,
		Properties:       req.Properties,
		CustomFields:     req.CustomFields,
		ComplianceStatus: model.ComplianceNotApplicable,
		Version:          1,
	}
	if req.BlueprintID != nil {
		blueprintID, err := uuid.Parse(*req.BlueprintID)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid blueprintId: %v", err), http.StatusBadRequest)
			return
		}
		deal.BlueprintID = &blueprintID
	}

	if err := pr.store.CreateDeal(r.Context(), deal); err != nil {
		pr.logger.Error("failed to create deal", "tenant_id", tenantID, "error", err)
		http.Error(w, "failed to create deal", http.StatusInternalServerError)
		return
	}

	pr.recorder.Record(r.Context(), &timeline.Event{
		TenantID:   tenantID,
		Kind:       timeline.KindRecordCreated,
		SubjectIDs: []uuid.UUID{deal.ID},
		Title:      fmt.Sprintf("deal %q created", deal.Name),
		Metadata:   map[string]any{"dealId": deal.ID.String()},
	})

	if err := pr.bus.Publish(r.Context(), eventbus.Event{
		TenantID:   tenantID,
		Type:       eventbus.EventRecordCreated,
		EntityID:   deal.ID,
		EntityType: "deal",
		Metadata:   map[string]any{"dealId": deal.ID.String(), "name": deal.Name},
	}); err != nil {
		pr.logger.Warn("failed to publish record-created event", "deal_id", deal.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, deal)
}

// HandleGetDeal handles GET /api/deals/{dealID} requests.
func (pr *PipelineRouter) HandleGetDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(r.PathValue("dealID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid dealID: %v", err), http.StatusBadRequest)
		return
	}

	deal, err := pr.store.GetDeal(r.Context(), dealID)
	if err != nil {
		if persistence.IsNotFound(err) {
			http.Error(w, fmt.Sprintf("deal %s not found", dealID), http.StatusNotFound)
			return
		}
		pr.logger.Error("failed to load deal", "deal_id", dealID, "error", err)
		http.Error(w, "failed to load deal", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, deal)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
