package model

// MoveEvaluation is the gate's full answer for one requested move. A
// blocked move is not an error: CanMove=false with the missing sets is
// a normal, fully-described negative result suitable for UI display or
// an override decision.
type MoveEvaluation struct {
	CanMove           bool     `json:"canMove"`
	CurrentOrder      int      `json:"currentOrder"`
	TargetOrder       int      `json:"targetOrder"`
	MissingProperties []string `json:"missingProperties"`
	MissingActions    []string `json:"missingActions"`
	Message           string   `json:"message"`
}

// Blocked reports whether the evaluation denies the move.
func (e *MoveEvaluation) Blocked() bool {
	return !e.CanMove
}

// StageMoveRequest is the stage-move entry point payload.
type StageMoveRequest struct {
	TargetStageOrder int    `json:"targetStageOrder"`
	Override         bool   `json:"override,omitempty"`
	OverrideReason   string `json:"overrideReason,omitempty"`
	Actor            string `json:"actor,omitempty"`
}

// StageMoveResult is the apply outcome returned to the caller together
// with the evaluation that produced it.
type StageMoveResult struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Evaluation *MoveEvaluation `json:"evaluation"`
}

// CreateDealRequest is the thin record-creation payload. Record CRUD is
// not part of the core; this surface exists to produce RECORD_CREATED
// domain events.
type CreateDealRequest struct {
	Name         string         `json:"name"`
	Properties   map[string]any `json:"properties,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
	BlueprintID  *string        `json:"blueprintId,omitempty"`
}
