package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/covecrm/cove/internal/automation/model"
	"github.com/covecrm/cove/internal/automation/persistence"
	"github.com/covecrm/cove/internal/automation/service"
	"github.com/covecrm/cove/utils"
)

// AutomationRouter exposes workflow authoring, the manual trigger entry
// point, and the run inspection surfaces.
type AutomationRouter struct {
	definitions *persistence.DefinitionStore
	runs        *persistence.RunStore
	runner      *service.Runner
	logger      *slog.Logger
}

func NewAutomationRouter(
	definitions *persistence.DefinitionStore,
	runs *persistence.RunStore,
	runner *service.Runner,
	logger *slog.Logger,
) *AutomationRouter {
	return &AutomationRouter{
		definitions: definitions,
		runs:        runs,
		runner:      runner,
		logger:      logger.With("module", "automation_router"),
	}
}

// HandleCreateWorkflow handles POST /api/tenants/{tenantID}/workflows
// requests, the authoring surface for workflow definitions.
func (ar *AutomationRouter) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("tenantID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenantID: %v", err), http.StatusBadRequest)
		return
	}

	var def model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	def.TenantID = tenantID
	if def.Status == "" {
		def.Status = model.WorkflowStatusDraft
	}
	if def.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if len(def.Actions) == 0 {
		http.Error(w, "at least one action is required", http.StatusBadRequest)
		return
	}

	if err := ar.definitions.Create(r.Context(), &def); err != nil {
		ar.logger.Error("failed to create workflow", "tenant_id", tenantID, "error", err)
		http.Error(w, "failed to create workflow", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// HandleManualTrigger handles POST /api/workflows/{workflowID}/trigger
// requests. Only ACTIVE workflows may be triggered; the response is the
// created (or idempotently deduplicated) run's snapshot.
func (ar *AutomationRouter) HandleManualTrigger(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(r.PathValue("workflowID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid workflowID: %v", err), http.StatusBadRequest)
		return
	}

	var req model.ManualTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	def, err := ar.definitions.GetByID(r.Context(), workflowID)
	if err != nil {
		if persistence.IsNotFound(err) {
			http.Error(w, fmt.Sprintf("workflow %s not found", workflowID), http.StatusNotFound)
			return
		}
		ar.logger.Error("failed to load workflow", "workflow_id", workflowID, "error", err)
		http.Error(w, "failed to load workflow", http.StatusInternalServerError)
		return
	}
	if def.Status != model.WorkflowStatusActive {
		http.Error(w, fmt.Sprintf("workflow %s is %s, only ACTIVE workflows can be triggered", workflowID, def.Status), http.StatusConflict)
		return
	}

	triggerData := map[string]any{"eventType": string(model.TriggerManual)}
	for k, v := range req.TriggerData {
		triggerData[k] = v
	}
	if req.ContactID != nil {
		triggerData["contactId"] = req.ContactID.String()
	}
	if req.DealID != nil {
		triggerData["dealId"] = req.DealID.String()
	}

	run, err := ar.runner.StartRun(r.Context(), def, triggerData, req.IdempotencyKey)
	if err != nil {
		ar.logger.Error("manual trigger failed", "workflow_id", workflowID, "error", err)
		http.Error(w, "failed to start workflow run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, run.Snapshot())
}

// HandleGetRun handles GET /api/runs/{runID} requests.
func (ar *AutomationRouter) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("runID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid runID: %v", err), http.StatusBadRequest)
		return
	}

	run, err := ar.runs.GetByID(r.Context(), runID)
	if err != nil {
		if persistence.IsNotFound(err) {
			http.Error(w, fmt.Sprintf("run %s not found", runID), http.StatusNotFound)
			return
		}
		ar.logger.Error("failed to load run", "run_id", runID, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, run.Snapshot())
}

// HandleListRuns handles GET /api/workflows/{workflowID}/runs requests
// with offset/limit pagination.
func (ar *AutomationRouter) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(r.PathValue("workflowID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid workflowID: %v", err), http.StatusBadRequest)
		return
	}

	page := utils.ParsePagination(r.URL.Query())
	runs, err := ar.runs.ListByWorkflow(r.Context(), workflowID, page.Offset, page.Limit)
	if err != nil {
		ar.logger.Error("failed to list runs", "workflow_id", workflowID, "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	snapshots := make([]model.RunSnapshot, 0, len(runs))
	for i := range runs {
		snapshots = append(snapshots, runs[i].Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   snapshots,
		"offset": page.Offset,
		"limit":  page.Limit,
	})
}

// HandleCancelRun handles POST /api/runs/{runID}/cancel requests.
// Cancellation only lands on idle runs; anything else is a conflict.
func (ar *AutomationRouter) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("runID"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid runID: %v", err), http.StatusBadRequest)
		return
	}

	cancelled, err := ar.runner.Cancel(r.Context(), runID)
	if err != nil {
		ar.logger.Error("failed to cancel run", "run_id", runID, "error", err)
		http.Error(w, "failed to cancel run", http.StatusInternalServerError)
		return
	}

	run, err := ar.runs.GetByID(r.Context(), runID)
	if err != nil {
		if persistence.IsNotFound(err) {
			http.Error(w, fmt.Sprintf("run %s not found", runID), http.StatusNotFound)
			return
		}
		ar.logger.Error("failed to load run", "run_id", runID, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	if !cancelled {
		http.Error(w, fmt.Sprintf("run is %s and cannot be cancelled", run.Status), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
