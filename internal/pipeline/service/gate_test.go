package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/covecrm/cove/internal/pipeline/model"
)

func buildBlueprint(allowSkip bool) *model.BlueprintDefinition {
	blueprint := &model.BlueprintDefinition{
		TenantID:        uuid.New(),
		Name:            "Sales Pipeline",
		AllowSkipStages: allowSkip,
	}
	blueprint.ID = uuid.New()
	blueprint.Stages = []model.BlueprintStage{
		{
			BaseModel:   model.BaseModel{ID: uuid.New()},
			BlueprintID: blueprint.ID,
			Name:        "Qualification",
			Order:       1,
			RequiredProperties: []string{"budget", "decision_maker"},
			RequiredActions:    []string{"discovery_call"},
		},
		{
			BaseModel:   model.BaseModel{ID: uuid.New()},
			BlueprintID: blueprint.ID,
			Name:        "Proposal",
			Order:       2,
			RequiredProperties: []string{"proposal_doc"},
		},
		{
			BaseModel:   model.BaseModel{ID: uuid.New()},
			BlueprintID: blueprint.ID,
			Name:        "Closed Won",
			Order:       3,
		},
	}
	return blueprint
}

func buildDeal(blueprint *model.BlueprintDefinition, stageOrder int) *model.Deal {
	deal := &model.Deal{
		TenantID: uuid.New(),
		Name:     "Acme renewal",
		Version:  1,
	}
	deal.ID = uuid.New()
	if blueprint != nil {
		deal.BlueprintID = &blueprint.ID
		if stage := blueprint.StageByOrder(stageOrder); stage != nil {
			id := stage.ID
			deal.CurrentBlueprintStageID = &id
		}
	}
	return deal
}

func TestEvaluateMove_NoBlueprintIsUnrestricted(t *testing.T) {
	deal := buildDeal(nil, 0)

	eval := EvaluateMove(deal, nil, 5)

	assert.True(t, eval.CanMove)
	assert.Empty(t, eval.MissingProperties)
	assert.Empty(t, eval.MissingActions)
}

func TestEvaluateMove_BackwardAndSameStageAlwaysAllowed(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 2)
	// Nothing on the deal satisfies stage 2's requirements; backward and
	// same-stage moves must still pass.

	backward := EvaluateMove(deal, blueprint, 1)
	assert.True(t, backward.CanMove)

	same := EvaluateMove(deal, blueprint, 2)
	assert.True(t, same.CanMove)
}

func TestEvaluateMove_MissingPropertiesBlock(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000}
	deal.CompletedActions = []string{"discovery_call"}

	eval := EvaluateMove(deal, blueprint, 2)

	assert.False(t, eval.CanMove)
	assert.Equal(t, []string{"decision_maker"}, eval.MissingProperties)
	assert.Empty(t, eval.MissingActions)
	assert.Contains(t, eval.Message, "decision_maker")
}

func TestEvaluateMove_MissingActionsBlock(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000, "decision_maker": "CFO"}

	eval := EvaluateMove(deal, blueprint, 2)

	assert.False(t, eval.CanMove)
	assert.Empty(t, eval.MissingProperties)
	assert.Equal(t, []string{"discovery_call"}, eval.MissingActions)
}

func TestEvaluateMove_FalsyValuesCountAsMissing(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 1)
	deal.CompletedActions = []string{"discovery_call"}

	falsy := []any{nil, "", false, float64(0), []any{}, map[string]any{}}
	for _, value := range falsy {
		deal.Properties = map[string]any{"budget": value, "decision_maker": "CFO"}
		eval := EvaluateMove(deal, blueprint, 2)
		assert.False(t, eval.CanMove, "value %#v should count as missing", value)
		assert.Contains(t, eval.MissingProperties, "budget")
	}
}

func TestEvaluateMove_CustomFieldSatisfiesRequirement(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000}
	deal.CustomFields = map[string]any{"decision_maker": "CFO"}
	deal.CompletedActions = []string{"discovery_call"}

	eval := EvaluateMove(deal, blueprint, 2)

	assert.True(t, eval.CanMove)
}

func TestEvaluateMove_CustomFieldWinsOnCollision(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000, "decision_maker": "CFO"}
	deal.CustomFields = map[string]any{"budget": ""}
	deal.CompletedActions = []string{"discovery_call"}

	eval := EvaluateMove(deal, blueprint, 2)

	assert.False(t, eval.CanMove)
	assert.Equal(t, []string{"budget"}, eval.MissingProperties)
}

func TestEvaluateMove_SkipBlockedWhenDisallowed(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000, "decision_maker": "CFO"}
	deal.CompletedActions = []string{"discovery_call"}

	eval := EvaluateMove(deal, blueprint, 3)

	assert.False(t, eval.CanMove)
	assert.Contains(t, eval.Message, "cannot skip stages")
	assert.Contains(t, eval.Message, "Proposal")
}

func TestEvaluateMove_SkipAllowedStillChecksCurrentStage(t *testing.T) {
	blueprint := buildBlueprint(true)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000, "decision_maker": "CFO"}
	deal.CompletedActions = []string{"discovery_call"}

	eval := EvaluateMove(deal, blueprint, 3)
	assert.True(t, eval.CanMove)

	// Same skip with an unmet current-stage requirement stays blocked.
	deal.CompletedActions = nil
	eval = EvaluateMove(deal, blueprint, 3)
	assert.False(t, eval.CanMove)
	assert.Equal(t, []string{"discovery_call"}, eval.MissingActions)
}

func TestEvaluateMove_VirtualStartHasNoRequirements(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 0) // no current stage pointer

	eval := EvaluateMove(deal, blueprint, 1)

	assert.True(t, eval.CanMove)
	assert.Equal(t, 0, eval.CurrentOrder)
}

func TestEvaluateMove_UnresolvableStagePointerTreatedAsStart(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 0)
	orphan := uuid.New()
	deal.CurrentBlueprintStageID = &orphan

	eval := EvaluateMove(deal, blueprint, 1)

	assert.True(t, eval.CanMove)
	assert.Equal(t, 0, eval.CurrentOrder)
}

func TestEvaluateMove_SparsePositionAnchorsSkipChecks(t *testing.T) {
	blueprint := buildBlueprint(false)
	deal := buildDeal(blueprint, 0)
	deal.CurrentStageOrder = 7 // parked at a sparse order, no stage to point at

	skip := EvaluateMove(deal, blueprint, 9)
	assert.False(t, skip.CanMove)
	assert.Equal(t, 7, skip.CurrentOrder)
	assert.Contains(t, skip.Message, "cannot skip stages")

	next := EvaluateMove(deal, blueprint, 8)
	assert.True(t, next.CanMove, "the adjacent order has no exit requirements")

	backward := EvaluateMove(deal, blueprint, 3)
	assert.True(t, backward.CanMove)
}

func TestEvaluateMove_SparseTargetOrderUsesSyntheticLabel(t *testing.T) {
	blueprint := buildBlueprint(true)
	deal := buildDeal(blueprint, 1)
	deal.Properties = map[string]any{"budget": 50000, "decision_maker": "CFO"}
	deal.CompletedActions = []string{"discovery_call"}

	eval := EvaluateMove(deal, blueprint, 7)

	assert.True(t, eval.CanMove)
	assert.Contains(t, eval.Message, "Stage 7")
}
