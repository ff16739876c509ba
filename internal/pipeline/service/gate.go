package service

import (
	"fmt"
	"strings"

	"github.com/covecrm/cove/internal/pipeline/model"
)

// EvaluateMove decides whether a deal may move to the stage at
// targetOrder. It is a pure function with no side effects, so callers
// can evaluate repeatedly for UI preview at no cost.
//
// Requirements are evaluated against the deal's CURRENT stage, not the
// target: gating is an exit requirement of the stage being left. This
// coupling is deliberate.
func EvaluateMove(deal *model.Deal, blueprint *model.BlueprintDefinition, targetOrder int) *model.MoveEvaluation {
	eval := &model.MoveEvaluation{
		TargetOrder:       targetOrder,
		MissingProperties: []string{},
		MissingActions:    []string{},
	}

	// No blueprint assigned: progression is unrestricted.
	if deal.BlueprintID == nil || blueprint == nil {
		eval.CanMove = true
		eval.Message = "no blueprint assigned, move unrestricted"
		return eval
	}

	eval.CurrentOrder = resolveCurrentOrder(deal, blueprint)

	// Backward and same-stage moves are corrective and always allowed.
	if targetOrder <= eval.CurrentOrder {
		eval.CanMove = true
		eval.Message = "backward or same-stage moves are always allowed"
		return eval
	}

	if !blueprint.AllowSkipStages && targetOrder > eval.CurrentOrder+1 {
		eval.CanMove = false
		eval.Message = fmt.Sprintf("cannot skip stages: complete %q (stage %d) first",
			blueprint.StageName(eval.CurrentOrder+1), eval.CurrentOrder+1)
		return eval
	}

	// The virtual start (order 0) has no exit requirements.
	current := blueprint.StageByOrder(eval.CurrentOrder)
	if current != nil {
		merged := deal.MergedProperties()
		for _, name := range current.RequiredProperties {
			if !model.IsPropertyPresent(merged, name) {
				eval.MissingProperties = append(eval.MissingProperties, name)
			}
		}
		for _, action := range current.RequiredActions {
			if !deal.HasCompletedAction(action) {
				eval.MissingActions = append(eval.MissingActions, action)
			}
		}
	}

	eval.CanMove = len(eval.MissingProperties) == 0 && len(eval.MissingActions) == 0
	eval.Message = summarize(eval, blueprint)
	return eval
}

// resolveCurrentOrder locates the deal's current stage within the
// blueprint. A sparse position carries no stage pointer, so the
// persisted order still places the deal on the ladder; a deal with
// neither is at the virtual start, order 0.
func resolveCurrentOrder(deal *model.Deal, blueprint *model.BlueprintDefinition) int {
	if deal.CurrentBlueprintStageID != nil {
		if stage := blueprint.StageByID(*deal.CurrentBlueprintStageID); stage != nil {
			return stage.Order
		}
	}
	return deal.CurrentStageOrder
}

func summarize(eval *model.MoveEvaluation, blueprint *model.BlueprintDefinition) string {
	if eval.CanMove {
		return fmt.Sprintf("requirements met, move to %q allowed", blueprint.StageName(eval.TargetOrder))
	}

	parts := make([]string, 0, 2)
	if len(eval.MissingProperties) > 0 {
		parts = append(parts, fmt.Sprintf("missing properties: %s", strings.Join(eval.MissingProperties, ", ")))
	}
	if len(eval.MissingActions) > 0 {
		parts = append(parts, fmt.Sprintf("incomplete actions: %s", strings.Join(eval.MissingActions, ", ")))
	}
	return fmt.Sprintf("cannot leave %q yet: %s",
		blueprint.StageName(eval.CurrentOrder), strings.Join(parts, "; "))
}
