// Package flow drives one user message through the plan-run lifecycle:
// start a new task, or resume a paused one through its clarifications.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tradeflow-ai/tradeflow/internal/advisor"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
	"github.com/tradeflow-ai/tradeflow/internal/planner"
	"github.com/tradeflow-ai/tradeflow/internal/session"
)

// ErrTooManyRounds is returned when a resumed run keeps reporting
// clarifications past the configured round budget. Without the bound a
// misbehaving planner could chain blocking calls forever.
var ErrTooManyRounds = errors.New("clarification rounds exceeded limit")

// Engine composes the session store, the planner client and the optional
// pre-processing advisor.
type Engine struct {
	sessions  *session.Store
	planner   planner.Client
	advisor   advisor.Advisor // nil disables the pre-processing gate
	maxRounds int
	logger    *slog.Logger
}

// New creates a flow engine. advisor may be nil.
func New(sessions *session.Store, pc planner.Client, adv advisor.Advisor, maxRounds int, logger *slog.Logger) *Engine {
	if maxRounds <= 0 {
		maxRounds = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions:  sessions,
		planner:   pc,
		advisor:   adv,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// Start handles the "start or continue a conversation turn" entry point.
// When the advisor decides the query is incomplete the turn ends with a
// clarification question and no plan is started.
func (e *Engine) Start(ctx context.Context, sessionID, userID, message string) (*domain.TurnResult, error) {
	query := message

	if e.advisor != nil {
		history, err := e.sessions.ReadHistory(ctx, sessionID, 4)
		if err != nil {
			return nil, fmt.Errorf("read chat history: %w", err)
		}

		assessment, err := e.advisor.Assess(ctx, message, history)
		if err != nil {
			return nil, fmt.Errorf("pre-process query: %w", err)
		}

		reply := assessment.ClarificationQuestion
		if reply == "" {
			reply = "Okay, I will process that."
		}
		if err := e.recordTurn(ctx, sessionID, message, reply); err != nil {
			return nil, err
		}

		if assessment.Status == advisor.StatusClarificationNeeded {
			return &domain.TurnResult{
				Type:    domain.TurnClarificationInput,
				Message: assessment.ClarificationQuestion,
			}, nil
		}
		query = assessment.EnrichedQuery
	}

	run, err := e.planner.CreateRun(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}

	if err := e.sessions.PutPlanRun(ctx, sessionID, run); err != nil {
		return nil, err
	}

	result := domain.TurnFromRun(run)
	if result.Type == domain.TurnSuccess {
		result.Message = "Task completed instantly!"
	}
	e.logger.Info("turn started", "session_id", sessionID, "run_id", run.ID, "state", run.State)
	return result, nil
}

// Resume handles the "resume a paused plan" entry point. Outstanding
// clarifications are resolved until none remain, bounded by the round
// budget, then execution is resumed if the run is not yet done.
func (e *Engine) Resume(ctx context.Context, sessionID, message string) (*domain.TurnResult, error) {
	run, err := e.sessions.GetPlanRun(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rounds := 0
	for run.NeedsClarification() {
		if rounds >= e.maxRounds {
			return nil, fmt.Errorf("%w (%d rounds)", ErrTooManyRounds, rounds)
		}
		rounds++

		c := run.FirstClarification()
		if c == nil {
			break
		}

		if c.Kind == domain.ClarificationAction {
			run, err = e.planner.WaitForReady(ctx, run)
			if err != nil {
				return nil, fmt.Errorf("wait for external action: %w", err)
			}
		} else {
			run, err = e.planner.ResolveClarification(ctx, run, c.ID, message)
			if err != nil {
				return nil, fmt.Errorf("resolve clarification: %w", err)
			}
		}
	}

	if run.State != domain.StateDone {
		run, err = e.planner.Resume(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("resume plan run: %w", err)
		}
	}

	if err := e.sessions.PutPlanRun(ctx, sessionID, run); err != nil {
		return nil, err
	}

	e.logger.Info("turn resumed", "session_id", sessionID, "run_id", run.ID, "state", run.State, "rounds", rounds)
	return domain.TurnFromRun(run), nil
}

// History returns the session's recent chat log.
func (e *Engine) History(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	return e.sessions.ReadHistory(ctx, sessionID, limit)
}

func (e *Engine) recordTurn(ctx context.Context, sessionID, userMessage, assistantReply string) error {
	if err := e.sessions.AppendHistory(ctx, sessionID, domain.RoleUser, userMessage); err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}
	if err := e.sessions.AppendHistory(ctx, sessionID, domain.RoleAssistant, assistantReply); err != nil {
		return fmt.Errorf("record assistant turn: %w", err)
	}
	return nil
}
