package domain

import (
	"encoding/json"
)

// Chat history roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry in a session's rolling chat history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnType classifies the outcome of one conversation turn.
type TurnType string

const (
	TurnClarificationAction TurnType = "clarification_action"
	TurnClarificationInput  TurnType = "clarification_input"
	TurnSuccess             TurnType = "success"
	TurnPending             TurnType = "pending"
)

// TurnResult is the normalized outcome of driving one user message through
// the plan-run lifecycle.
type TurnResult struct {
	Type      TurnType        `json:"response_type"`
	Message   string          `json:"message"`
	ActionURL string          `json:"action_url,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// TurnFromRun maps a plan run's state to the response surfaced to the chat
// client. Action clarifications carry their URL; DONE carries the planner
// output verbatim; unknown states report as pending.
func TurnFromRun(run *PlanRun) *TurnResult {
	switch run.State {
	case StateNeedClarification:
		c := run.FirstClarification()
		if c == nil {
			return &TurnResult{Type: TurnPending, Message: "Task is in progress..."}
		}
		if c.Kind == ClarificationAction {
			return &TurnResult{
				Type:      TurnClarificationAction,
				Message:   c.Guidance,
				ActionURL: c.ActionURL,
			}
		}
		return &TurnResult{Type: TurnClarificationInput, Message: c.Guidance}
	case StateDone:
		return &TurnResult{
			Type:    TurnSuccess,
			Message: "Task completed!",
			Result:  run.Output,
		}
	default:
		return &TurnResult{Type: TurnPending, Message: "Task is in progress..."}
	}
}
