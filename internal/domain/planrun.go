package domain

import (
	"encoding/json"
)

// RunState is the execution state reported by the external planner.
// The planner owns the state machine; this backend only interprets the
// values below and treats anything else as in-progress.
type RunState string

const (
	StateRunning           RunState = "RUNNING"
	StateNeedClarification RunState = "NEED_CLARIFICATION"
	StateDone              RunState = "DONE"
	StateFailed            RunState = "FAILED"
)

// ClarificationKind discriminates the clarification variants.
type ClarificationKind string

const (
	ClarificationAction         ClarificationKind = "action"
	ClarificationInput          ClarificationKind = "input"
	ClarificationMultipleChoice ClarificationKind = "multiple_choice"
)

// Clarification is a pending request for user input or action before a
// plan run can proceed.
type Clarification struct {
	ID        string            `json:"id"`
	Kind      ClarificationKind `json:"kind"`
	Guidance  string            `json:"guidance"`
	ActionURL string            `json:"action_url,omitempty"`
	Options   []string          `json:"options,omitempty"`
}

// PlanRun is the external planner's execution-state snapshot for one task.
// It is stored and passed back to the planner verbatim; the only fields this
// backend reads are State, Clarifications and Output.
type PlanRun struct {
	ID             string          `json:"id"`
	PlanID         string          `json:"plan_id"`
	State          RunState        `json:"state"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
}

// FirstClarification returns the first outstanding clarification, or nil.
// Only the first one is surfaced per conversation turn.
func (r *PlanRun) FirstClarification() *Clarification {
	if len(r.Clarifications) == 0 {
		return nil
	}
	return &r.Clarifications[0]
}

// NeedsClarification reports whether the run is paused on a clarification.
func (r *PlanRun) NeedsClarification() bool {
	return r.State == StateNeedClarification
}
