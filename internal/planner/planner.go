// Package planner wraps the external planning/execution service.
//
// The service owns plan generation, tool invocation and the clarification
// state machine. This client only transports plan-run snapshots: every
// mutation sends the stored snapshot back verbatim and replaces it with
// whatever the service returns.
package planner

import (
	"context"

	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// Client is the operations surface this backend needs from the planner.
type Client interface {
	// CreateRun generates a plan from a natural-language query and starts a
	// run scoped to the given end user.
	CreateRun(ctx context.Context, query, endUserID string) (*domain.PlanRun, error)

	// ResolveClarification submits the user's answer to an input or
	// multiple-choice clarification and returns the updated run.
	ResolveClarification(ctx context.Context, run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error)

	// WaitForReady blocks until the service observes the outstanding action
	// clarification complete, bounded by the configured timeout.
	WaitForReady(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error)

	// Resume continues execution of a paused run from where it left off.
	Resume(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error)
}
