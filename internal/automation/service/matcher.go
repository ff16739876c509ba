package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/covecrm/cove/internal/automation/model"
	"github.com/covecrm/cove/internal/eventbus"
)

// TriggerMatcher fans domain events out to the workflows subscribed to
// them. One failing definition never blocks the others: each match is
// started independently and failures are logged and skipped.
type TriggerMatcher struct {
	definitions DefinitionRepository
	runner      *Runner
	logger      *slog.Logger
}

func NewTriggerMatcher(definitions DefinitionRepository, runner *Runner, logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		definitions: definitions,
		runner:      runner,
		logger:      logger.With("module", "automation.matcher"),
	}
}

// OnEvent starts a run for every ACTIVE workflow of the event's tenant
// whose trigger type and conditions match. Non-matching and invalid
// definitions are skipped.
func (m *TriggerMatcher) OnEvent(ctx context.Context, event eventbus.Event) {
	definitions, err := m.definitions.FindActiveByTrigger(ctx, event.TenantID, model.TriggerType(event.Type))
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to load workflows for event",
			"event_type", event.Type, "tenant_id", event.TenantID, "error", err)
		return
	}

	started := 0
	for i := range definitions {
		def := &definitions[i]
		if !def.TriggerConfig.Matches(event.Metadata) {
			continue
		}
		run, err := m.runner.StartRun(ctx, def, triggerData(event), idempotencyKey(event, def))
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to start run for matched workflow",
				"workflow_id", def.ID, "event_type", event.Type, "error", err)
			continue
		}
		started++
		m.logger.DebugContext(ctx, "workflow matched event",
			"workflow_id", def.ID, "run_id", run.ID, "event_type", event.Type)
	}
	if started > 0 {
		m.logger.InfoContext(ctx, "event dispatched to workflows",
			"event_type", event.Type, "tenant_id", event.TenantID, "matched", started)
	}
}

// triggerData snapshots the event into the run's trigger data.
func triggerData(event eventbus.Event) map[string]any {
	data := map[string]any{
		"eventType":  event.Type,
		"entityId":   event.EntityID.String(),
		"entityType": event.EntityType,
	}
	for k, v := range event.Metadata {
		data[k] = v
	}
	return data
}

// idempotencyKey derives a per-definition dedup key when the event
// carries one, so replays of the same event spawn at most one run per
// workflow.
func idempotencyKey(event eventbus.Event, def *model.WorkflowDefinition) *string {
	raw, ok := event.Metadata["idempotencyKey"].(string)
	if !ok || raw == "" {
		return nil
	}
	key := fmt.Sprintf("%s:%s", raw, def.ID)
	return &key
}
