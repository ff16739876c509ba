package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covecrm/cove/internal/automation/model"
	"github.com/covecrm/cove/internal/eventbus"
)

func newTestMatcher(defs *fakeDefinitionRepo, runs *fakeRunRepo, jobs *fakeJobRepo) *TriggerMatcher {
	collab, _, _ := stubCollaborators()
	runner := newTestRunner(defs, runs, jobs, collab)
	return NewTriggerMatcher(defs, runner, testLogger())
}

func runsForWorkflow(t *testing.T, runs *fakeRunRepo, workflowID uuid.UUID) []model.WorkflowRun {
	t.Helper()
	out, err := runs.ListByWorkflow(context.Background(), workflowID, 0, 100)
	require.NoError(t, err)
	return out
}

func TestOnEvent_StartsMatchingWorkflowsOnly(t *testing.T) {
	tenantID := uuid.New()
	matching := activeDefinition(notifyAction())
	matching.TenantID = tenantID
	matching.TriggerType = model.TriggerStageChanged

	wrongTrigger := activeDefinition(notifyAction())
	wrongTrigger.TenantID = tenantID
	wrongTrigger.TriggerType = model.TriggerRecordCreated

	otherTenant := activeDefinition(notifyAction())
	otherTenant.TriggerType = model.TriggerStageChanged

	paused := activeDefinition(notifyAction())
	paused.TenantID = tenantID
	paused.TriggerType = model.TriggerStageChanged
	paused.Status = model.WorkflowStatusPaused

	defs := newFakeDefinitionRepo(matching, wrongTrigger, otherTenant, paused)
	runs := newFakeRunRepo()
	matcher := newTestMatcher(defs, runs, newFakeJobRepo())

	matcher.OnEvent(context.Background(), eventbus.Event{
		TenantID:   tenantID,
		Type:       eventbus.EventStageChanged,
		EntityID:   uuid.New(),
		EntityType: "deal",
		Metadata:   map[string]any{"toOrder": 2},
	})

	assert.Len(t, runsForWorkflow(t, runs, matching.ID), 1)
	assert.Empty(t, runsForWorkflow(t, runs, wrongTrigger.ID))
	assert.Empty(t, runsForWorkflow(t, runs, otherTenant.ID))
	assert.Empty(t, runsForWorkflow(t, runs, paused.ID))
}

func TestOnEvent_ConditionsFilterOnStringifiedValues(t *testing.T) {
	tenantID := uuid.New()
	conditioned := activeDefinition(notifyAction())
	conditioned.TenantID = tenantID
	conditioned.TriggerType = model.TriggerStageChanged
	conditioned.TriggerConfig = model.TriggerConfig{
		Conditions: []model.TriggerCondition{{Field: "toOrder", Equals: "3"}},
	}

	defs := newFakeDefinitionRepo(conditioned)
	runs := newFakeRunRepo()
	matcher := newTestMatcher(defs, runs, newFakeJobRepo())

	// Numeric metadata matches the string-typed condition.
	matcher.OnEvent(context.Background(), eventbus.Event{
		TenantID: tenantID,
		Type:     eventbus.EventStageChanged,
		EntityID: uuid.New(),
		Metadata: map[string]any{"toOrder": float64(3)},
	})
	assert.Len(t, runsForWorkflow(t, runs, conditioned.ID), 1)

	// Mismatching value starts nothing further.
	matcher.OnEvent(context.Background(), eventbus.Event{
		TenantID: tenantID,
		Type:     eventbus.EventStageChanged,
		EntityID: uuid.New(),
		Metadata: map[string]any{"toOrder": float64(2)},
	})
	assert.Len(t, runsForWorkflow(t, runs, conditioned.ID), 1)

	// Missing field starts nothing either.
	matcher.OnEvent(context.Background(), eventbus.Event{
		TenantID: tenantID,
		Type:     eventbus.EventStageChanged,
		EntityID: uuid.New(),
	})
	assert.Len(t, runsForWorkflow(t, runs, conditioned.ID), 1)
}

func TestOnEvent_FailingDefinitionDoesNotBlockOthers(t *testing.T) {
	tenantID := uuid.New()
	broken := activeDefinition() // no actions: rejected by validation
	broken.TenantID = tenantID
	broken.TriggerType = model.TriggerStageChanged

	healthy := activeDefinition(notifyAction())
	healthy.TenantID = tenantID
	healthy.TriggerType = model.TriggerStageChanged

	defs := newFakeDefinitionRepo(broken, healthy)
	runs := newFakeRunRepo()
	matcher := newTestMatcher(defs, runs, newFakeJobRepo())

	matcher.OnEvent(context.Background(), eventbus.Event{
		TenantID: tenantID,
		Type:     eventbus.EventStageChanged,
		EntityID: uuid.New(),
	})

	assert.Empty(t, runsForWorkflow(t, runs, broken.ID))
	assert.Len(t, runsForWorkflow(t, runs, healthy.ID), 1)
}

func TestOnEvent_TriggerDataSnapshotsEvent(t *testing.T) {
	tenantID := uuid.New()
	def := activeDefinition(notifyAction())
	def.TenantID = tenantID
	def.TriggerType = model.TriggerStageChanged

	defs := newFakeDefinitionRepo(def)
	runs := newFakeRunRepo()
	matcher := newTestMatcher(defs, runs, newFakeJobRepo())

	entityID := uuid.New()
	matcher.OnEvent(context.Background(), eventbus.Event{
		TenantID:   tenantID,
		Type:       eventbus.EventStageChanged,
		EntityID:   entityID,
		EntityType: "deal",
		Metadata:   map[string]any{"fromOrder": 1, "toOrder": 2},
	})

	started := runsForWorkflow(t, runs, def.ID)
	require.Len(t, started, 1)
	assert.Equal(t, "STAGE_CHANGED", started[0].TriggerData["eventType"])
	assert.Equal(t, entityID.String(), started[0].TriggerData["entityId"])
	assert.Equal(t, 2, started[0].TriggerData["toOrder"])
}

func TestOnEvent_IdempotencyKeyPreventsDuplicateRuns(t *testing.T) {
	tenantID := uuid.New()
	first := activeDefinition(notifyAction())
	first.TenantID = tenantID
	first.TriggerType = model.TriggerStageChanged
	second := activeDefinition(notifyAction())
	second.TenantID = tenantID
	second.TriggerType = model.TriggerStageChanged

	defs := newFakeDefinitionRepo(first, second)
	runs := newFakeRunRepo()
	matcher := newTestMatcher(defs, runs, newFakeJobRepo())

	event := eventbus.Event{
		TenantID: tenantID,
		Type:     eventbus.EventStageChanged,
		EntityID: uuid.New(),
		Metadata: map[string]any{"idempotencyKey": "evt-7"},
	}

	matcher.OnEvent(context.Background(), event)
	matcher.OnEvent(context.Background(), event) // redelivery

	// One run per workflow despite the duplicate delivery, each with its
	// own derived key.
	firstRuns := runsForWorkflow(t, runs, first.ID)
	secondRuns := runsForWorkflow(t, runs, second.ID)
	require.Len(t, firstRuns, 1)
	require.Len(t, secondRuns, 1)
	require.NotNil(t, firstRuns[0].IdempotencyKey)
	require.NotNil(t, secondRuns[0].IdempotencyKey)
	assert.Equal(t, "evt-7:"+first.ID.String(), *firstRuns[0].IdempotencyKey)
	assert.Equal(t, "evt-7:"+second.ID.String(), *secondRuns[0].IdempotencyKey)
}
