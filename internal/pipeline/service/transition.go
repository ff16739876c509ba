package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/eventbus"
	"github.com/covecrm/cove/internal/pipeline/model"
	"github.com/covecrm/cove/internal/telemetry"
	"github.com/covecrm/cove/internal/timeline"
)

// ErrOverrideReasonRequired is returned when a blueprint demands an
// override reason and the caller supplied none. Nothing is mutated.
var ErrOverrideReasonRequired = errors.New("an override reason is required by this blueprint")

// maxMoveAttempts bounds retries of the whole read-evaluate-write cycle
// when a concurrent writer invalidates the deal version mid-move.
const maxMoveAttempts = 3

// TransitionExecutor applies allowed (or overridden) stage moves. The
// deal mutation and its timeline record commit in one transaction; the
// domain event published afterwards is best-effort.
type TransitionExecutor struct {
	txm        TxManager
	deals      DealRepository
	blueprints BlueprintRepository
	recorder   timeline.Recorder
	bus        eventbus.Publisher
	logger     *slog.Logger
}

func NewTransitionExecutor(
	txm TxManager,
	deals DealRepository,
	blueprints BlueprintRepository,
	recorder timeline.Recorder,
	bus eventbus.Publisher,
	logger *slog.Logger,
) *TransitionExecutor {
	return &TransitionExecutor{
		txm:        txm,
		deals:      deals,
		blueprints: blueprints,
		recorder:   recorder,
		bus:        bus,
		logger:     logger.With("module", "stage_transition"),
	}
}

// ApplyMove evaluates and, if permitted, applies a stage move. A gate
// block is not an error: it is returned as a failed StageMoveResult
// carrying the evaluation. Version conflicts retry against fresh state
// up to maxMoveAttempts before surfacing model.ErrVersionConflict.
func (e *TransitionExecutor) ApplyMove(ctx context.Context, dealID uuid.UUID, req model.StageMoveRequest) (*model.StageMoveResult, error) {
	for attempt := 1; attempt <= maxMoveAttempts; attempt++ {
		result, event, err := e.applyOnce(ctx, dealID, req)
		if errors.Is(err, model.ErrVersionConflict) {
			telemetry.StageMoveConflicts.Inc()
			e.logger.Warn("stage move lost a version race, retrying against fresh state",
				"deal_id", dealID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		if event != nil {
			// The mutation is committed; a publish failure only costs
			// downstream automation this occurrence, never the move.
			if pubErr := e.bus.Publish(ctx, *event); pubErr != nil {
				e.logger.Warn("failed to publish stage-changed event",
					"deal_id", dealID,
					"error", pubErr)
			}
		}
		return result, nil
	}
	return nil, fmt.Errorf("stage move for deal %s: %w", dealID, model.ErrVersionConflict)
}

func (e *TransitionExecutor) applyOnce(ctx context.Context, dealID uuid.UUID, req model.StageMoveRequest) (*model.StageMoveResult, *eventbus.Event, error) {
	var (
		result *model.StageMoveResult
		event  *eventbus.Event
	)

	err := e.txm.Transaction(ctx, func(tx *gorm.DB) error {
		deal, err := e.deals.GetDealInTx(ctx, tx, dealID)
		if err != nil {
			return fmt.Errorf("failed to load deal %s: %w", dealID, err)
		}

		var blueprint *model.BlueprintDefinition
		if deal.BlueprintID != nil {
			blueprint, err = e.blueprints.GetBlueprintInTx(ctx, tx, *deal.BlueprintID)
			if err != nil {
				return fmt.Errorf("failed to load blueprint %s: %w", *deal.BlueprintID, err)
			}
		}

		if req.Override && blueprint != nil && blueprint.RequireOverrideReason && strings.TrimSpace(req.OverrideReason) == "" {
			return ErrOverrideReasonRequired
		}

		eval := EvaluateMove(deal, blueprint, req.TargetStageOrder)

		overridden := false
		if eval.Blocked() {
			// An override against a blueprint that forbids overrides
			// fails exactly like a non-overridden blocked move.
			if !req.Override || blueprint == nil || !blueprint.AllowAdminOverride {
				telemetry.StageMovesBlocked.Inc()
				result = &model.StageMoveResult{
					Success:    false,
					Message:    eval.Message,
					Evaluation: eval,
				}
				return nil
			}
			overridden = true
		}

		fromOrder := eval.CurrentOrder
		fromName := blueprint.StageName(fromOrder)
		toName := blueprint.StageName(req.TargetStageOrder)

		var fromStage, targetStage *model.BlueprintStage
		if blueprint != nil {
			fromStage = blueprint.StageByOrder(fromOrder)
			targetStage = blueprint.StageByOrder(req.TargetStageOrder)
		}

		expectedVersion := deal.Version
		if targetStage != nil {
			id := targetStage.ID
			deal.CurrentBlueprintStageID = &id
			if !deal.HasCompletedStage(id) {
				deal.CompletedBlueprintStageIDs = append(deal.CompletedBlueprintStageIDs, id)
			}
		} else {
			// Sparse pipeline: no stage exists at the target order. The
			// move proceeds under the synthetic label with no stage id
			// to point at or mark completed.
			deal.CurrentBlueprintStageID = nil
		}
		// The order is persisted separately so a sparse position still
		// anchors later skip checks.
		deal.CurrentStageOrder = req.TargetStageOrder

		switch {
		case blueprint == nil:
			deal.ComplianceStatus = model.ComplianceNotApplicable
		case overridden:
			deal.ComplianceStatus = model.ComplianceOverridden
		default:
			deal.ComplianceStatus = model.ComplianceCompliant
		}

		if err := e.deals.UpdateDealInTx(ctx, tx, deal, expectedVersion); err != nil {
			return err
		}

		metadata := map[string]any{
			"dealId":    deal.ID.String(),
			"fromOrder": fromOrder,
			"fromName":  fromName,
			"toOrder":   req.TargetStageOrder,
			"toName":    toName,
		}
		kind := timeline.KindStageChanged
		if overridden {
			kind = timeline.KindStageOverridden
			metadata["overrideReason"] = req.OverrideReason
			metadata["missingProperties"] = eval.MissingProperties
			metadata["missingActions"] = eval.MissingActions
		}
		if fromStage != nil && len(fromStage.ExitAutomation) > 0 {
			metadata["exitAutomation"] = fromStage.ExitAutomation
		}
		if targetStage != nil && len(targetStage.EntryAutomation) > 0 {
			metadata["entryAutomation"] = targetStage.EntryAutomation
		}

		if err := e.recorder.RecordInTx(ctx, tx, &timeline.Event{
			TenantID:   deal.TenantID,
			Kind:       kind,
			SubjectIDs: []uuid.UUID{deal.ID},
			Title:      fmt.Sprintf("deal moved from %q to %q", fromName, toName),
			Metadata:   metadata,
			Actor:      req.Actor,
		}); err != nil {
			return fmt.Errorf("failed to record stage-change event: %w", err)
		}

		event = &eventbus.Event{
			TenantID:   deal.TenantID,
			Type:       eventbus.EventStageChanged,
			EntityID:   deal.ID,
			EntityType: "deal",
			Metadata:   metadata,
		}

		message := fmt.Sprintf("deal moved to %q", toName)
		if overridden {
			message = fmt.Sprintf("deal moved to %q via override", toName)
		}
		result = &model.StageMoveResult{
			Success:    true,
			Message:    message,
			Evaluation: eval,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if result.Success {
		if result.Evaluation.Blocked() {
			telemetry.StageMovesOverridden.Inc()
		} else {
			telemetry.StageMovesApplied.Inc()
		}
	}
	return result, event, nil
}
