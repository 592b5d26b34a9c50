package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tradeflow-ai/tradeflow/internal/advisor"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
	"github.com/tradeflow-ai/tradeflow/internal/session"
)

// fakePlanner scripts the planner's behavior per operation.
type fakePlanner struct {
	createRun   func(query, endUserID string) (*domain.PlanRun, error)
	resolve     func(run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error)
	wait        func(run *domain.PlanRun) (*domain.PlanRun, error)
	resume      func(run *domain.PlanRun) (*domain.PlanRun, error)
	createCalls int
	waitCalls   int
	resumeCalls int
}

func (f *fakePlanner) CreateRun(ctx context.Context, query, endUserID string) (*domain.PlanRun, error) {
	f.createCalls++
	return f.createRun(query, endUserID)
}

func (f *fakePlanner) ResolveClarification(ctx context.Context, run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error) {
	return f.resolve(run, clarificationID, response)
}

func (f *fakePlanner) WaitForReady(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error) {
	f.waitCalls++
	return f.wait(run)
}

func (f *fakePlanner) Resume(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error) {
	f.resumeCalls++
	return f.resume(run)
}

// fakeAdvisor returns a scripted assessment.
type fakeAdvisor struct {
	assessment *advisor.Assessment
	err        error
	called     bool
}

func (f *fakeAdvisor) Assess(ctx context.Context, userMessage string, history []domain.ChatMessage) (*advisor.Assessment, error) {
	f.called = true
	return f.assessment, f.err
}

func newTestSessions(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.Open(session.Options{InMemory: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStartAdvisorAsksForClarification(t *testing.T) {
	sessions := newTestSessions(t)
	pc := &fakePlanner{}
	adv := &fakeAdvisor{assessment: &advisor.Assessment{
		Status:                advisor.StatusClarificationNeeded,
		ClarificationQuestion: "Which country are you importing into?",
	}}
	engine := New(sessions, pc, adv, 5, nil)

	result, err := engine.Start(context.Background(), "s1", "u1", "calculate duty")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if result.Type != domain.TurnClarificationInput {
		t.Errorf("Type = %q, want clarification_input", result.Type)
	}
	if result.Message != "Which country are you importing into?" {
		t.Errorf("Message = %q", result.Message)
	}
	if pc.createCalls != 0 {
		t.Error("no plan should be started when the advisor asks for clarification")
	}

	// The turn is recorded in the chat history.
	history, err := sessions.ReadHistory(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("ReadHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestStartReadyQueryCreatesAndPersistsRun(t *testing.T) {
	sessions := newTestSessions(t)
	pc := &fakePlanner{
		createRun: func(query, endUserID string) (*domain.PlanRun, error) {
			if query != "enriched query" {
				t.Errorf("planner got query %q, want the enriched one", query)
			}
			if endUserID != "u1" {
				t.Errorf("planner got end user %q, want u1", endUserID)
			}
			return &domain.PlanRun{
				ID:    "run-1",
				State: domain.StateNeedClarification,
				Clarifications: []domain.Clarification{
					{ID: "c1", Kind: domain.ClarificationAction, Guidance: "Authorize", ActionURL: "https://example/auth"},
				},
			}, nil
		},
	}
	adv := &fakeAdvisor{assessment: &advisor.Assessment{
		Status:        advisor.StatusReady,
		EnrichedQuery: "enriched query",
	}}
	engine := New(sessions, pc, adv, 5, nil)

	result, err := engine.Start(context.Background(), "s1", "u1", "calculate duty for a chair")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if result.Type != domain.TurnClarificationAction {
		t.Errorf("Type = %q, want clarification_action", result.Type)
	}
	if result.ActionURL != "https://example/auth" {
		t.Errorf("ActionURL = %q", result.ActionURL)
	}

	stored, err := sessions.GetPlanRun(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetPlanRun failed: %v", err)
	}
	if stored.ID != "run-1" {
		t.Errorf("stored run = %q, want run-1", stored.ID)
	}
}

func TestStartWithoutAdvisorPassesRawQuery(t *testing.T) {
	sessions := newTestSessions(t)
	pc := &fakePlanner{
		createRun: func(query, endUserID string) (*domain.PlanRun, error) {
			if query != "raw query" {
				t.Errorf("planner got %q, want the raw query", query)
			}
			return &domain.PlanRun{ID: "run-1", State: domain.StateRunning}, nil
		},
	}
	engine := New(sessions, pc, nil, 5, nil)

	result, err := engine.Start(context.Background(), "s1", "u1", "raw query")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if result.Type != domain.TurnPending {
		t.Errorf("Type = %q, want pending", result.Type)
	}
}

func TestStartInstantCompletion(t *testing.T) {
	sessions := newTestSessions(t)
	pc := &fakePlanner{
		createRun: func(query, endUserID string) (*domain.PlanRun, error) {
			return &domain.PlanRun{ID: "run-1", State: domain.StateDone, Output: json.RawMessage(`{"ok":true}`)}, nil
		},
	}
	engine := New(sessions, pc, nil, 5, nil)

	result, err := engine.Start(context.Background(), "s1", "u1", "q")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if result.Type != domain.TurnSuccess {
		t.Errorf("Type = %q, want success", result.Type)
	}
	if result.Message != "Task completed instantly!" {
		t.Errorf("Message = %q", result.Message)
	}
	if string(result.Result) != `{"ok":true}` {
		t.Errorf("Result = %s", result.Result)
	}
}

func TestStartAdvisorFailurePropagates(t *testing.T) {
	sessions := newTestSessions(t)
	pc := &fakePlanner{}
	adv := &fakeAdvisor{err: errors.New("model unavailable")}
	engine := New(sessions, pc, adv, 5, nil)

	if _, err := engine.Start(context.Background(), "s1", "u1", "q"); err == nil {
		t.Error("expected advisor failure to propagate")
	}
	if pc.createCalls != 0 {
		t.Error("no plan should be started when the advisor fails")
	}
}

func TestResumeWithoutStoredPlan(t *testing.T) {
	sessions := newTestSessions(t)
	engine := New(sessions, &fakePlanner{}, nil, 5, nil)

	_, err := engine.Resume(context.Background(), "s1", "ok")
	if !errors.Is(err, session.ErrNoPlanRun) {
		t.Errorf("expected ErrNoPlanRun, got %v", err)
	}
}

func TestResumeResolvesInputClarificationThenResumes(t *testing.T) {
	sessions := newTestSessions(t)
	ctx := context.Background()

	paused := &domain.PlanRun{
		ID:    "run-1",
		State: domain.StateNeedClarification,
		Clarifications: []domain.Clarification{
			{ID: "c1", Kind: domain.ClarificationInput, Guidance: "which country?"},
		},
	}
	if err := sessions.PutPlanRun(ctx, "s1", paused); err != nil {
		t.Fatalf("PutPlanRun failed: %v", err)
	}

	pc := &fakePlanner{
		resolve: func(run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error) {
			if clarificationID != "c1" {
				t.Errorf("resolved clarification %q, want c1", clarificationID)
			}
			if response != "germany" {
				t.Errorf("resolve response = %q, want the user message", response)
			}
			return &domain.PlanRun{ID: "run-1", State: domain.StateRunning}, nil
		},
		resume: func(run *domain.PlanRun) (*domain.PlanRun, error) {
			return &domain.PlanRun{ID: "run-1", State: domain.StateDone, Output: json.RawMessage(`{"hs_code":"1234.56"}`)}, nil
		},
	}
	engine := New(sessions, pc, nil, 5, nil)

	result, err := engine.Resume(ctx, "s1", "germany")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if result.Type != domain.TurnSuccess {
		t.Errorf("Type = %q, want success", result.Type)
	}
	if string(result.Result) != `{"hs_code":"1234.56"}` {
		t.Errorf("Result = %s, want verbatim output", result.Result)
	}
	if pc.resumeCalls != 1 {
		t.Errorf("resume calls = %d, want 1", pc.resumeCalls)
	}

	stored, err := sessions.GetPlanRun(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPlanRun failed: %v", err)
	}
	if stored.State != domain.StateDone {
		t.Errorf("stored state = %q, want DONE", stored.State)
	}
}

func TestResumeWaitsForActionClarification(t *testing.T) {
	sessions := newTestSessions(t)
	ctx := context.Background()

	paused := &domain.PlanRun{
		ID:    "run-1",
		State: domain.StateNeedClarification,
		Clarifications: []domain.Clarification{
			{ID: "c1", Kind: domain.ClarificationAction, Guidance: "Authorize", ActionURL: "https://example/auth"},
		},
	}
	if err := sessions.PutPlanRun(ctx, "s1", paused); err != nil {
		t.Fatalf("PutPlanRun failed: %v", err)
	}

	pc := &fakePlanner{
		wait: func(run *domain.PlanRun) (*domain.PlanRun, error) {
			return &domain.PlanRun{ID: "run-1", State: domain.StateDone, Output: json.RawMessage(`{}`)}, nil
		},
	}
	engine := New(sessions, pc, nil, 5, nil)

	result, err := engine.Resume(ctx, "s1", "ok")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if result.Type != domain.TurnSuccess {
		t.Errorf("Type = %q, want success", result.Type)
	}
	if pc.waitCalls != 1 {
		t.Errorf("wait calls = %d, want 1", pc.waitCalls)
	}
	if pc.resumeCalls != 0 {
		t.Error("run completed during the wait, resume should be skipped")
	}
}

func TestResumeLoopsUntilClarificationsClear(t *testing.T) {
	sessions := newTestSessions(t)
	ctx := context.Background()

	clarified := func(id string) *domain.PlanRun {
		return &domain.PlanRun{
			ID:    "run-1",
			State: domain.StateNeedClarification,
			Clarifications: []domain.Clarification{
				{ID: id, Kind: domain.ClarificationInput, Guidance: "more info"},
			},
		}
	}
	if err := sessions.PutPlanRun(ctx, "s1", clarified("c1")); err != nil {
		t.Fatalf("PutPlanRun failed: %v", err)
	}

	resolved := 0
	pc := &fakePlanner{
		resolve: func(run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error) {
			resolved++
			if resolved < 3 {
				return clarified("c" + string(rune('1'+resolved))), nil
			}
			return &domain.PlanRun{ID: "run-1", State: domain.StateRunning}, nil
		},
		resume: func(run *domain.PlanRun) (*domain.PlanRun, error) {
			return &domain.PlanRun{ID: "run-1", State: domain.StateRunning}, nil
		},
	}
	engine := New(sessions, pc, nil, 5, nil)

	result, err := engine.Resume(ctx, "s1", "answer")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resolved != 3 {
		t.Errorf("resolved %d clarifications, want 3", resolved)
	}
	if result.Type != domain.TurnPending {
		t.Errorf("Type = %q, want pending", result.Type)
	}
}

func TestResumeBoundedRounds(t *testing.T) {
	sessions := newTestSessions(t)
	ctx := context.Background()

	stuck := &domain.PlanRun{
		ID:    "run-1",
		State: domain.StateNeedClarification,
		Clarifications: []domain.Clarification{
			{ID: "c1", Kind: domain.ClarificationInput, Guidance: "again"},
		},
	}
	if err := sessions.PutPlanRun(ctx, "s1", stuck); err != nil {
		t.Fatalf("PutPlanRun failed: %v", err)
	}

	pc := &fakePlanner{
		// The planner never clears the clarification.
		resolve: func(run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error) {
			return stuck, nil
		},
	}
	engine := New(sessions, pc, nil, 3, nil)

	_, err := engine.Resume(ctx, "s1", "answer")
	if !errors.Is(err, ErrTooManyRounds) {
		t.Errorf("expected ErrTooManyRounds, got %v", err)
	}
}
