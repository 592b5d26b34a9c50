package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tradeflow-ai/tradeflow/internal/auth"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
	"github.com/tradeflow-ai/tradeflow/internal/flow"
	"github.com/tradeflow-ai/tradeflow/internal/session"
	"github.com/tradeflow-ai/tradeflow/internal/store"
)

// scriptedPlanner answers planner calls with canned runs.
type scriptedPlanner struct {
	created *domain.PlanRun
	resumed *domain.PlanRun
}

func (p *scriptedPlanner) CreateRun(ctx context.Context, query, endUserID string) (*domain.PlanRun, error) {
	return p.created, nil
}

func (p *scriptedPlanner) ResolveClarification(ctx context.Context, run *domain.PlanRun, clarificationID, response string) (*domain.PlanRun, error) {
	return p.resumed, nil
}

func (p *scriptedPlanner) WaitForReady(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error) {
	return p.resumed, nil
}

func (p *scriptedPlanner) Resume(ctx context.Context, run *domain.PlanRun) (*domain.PlanRun, error) {
	return p.resumed, nil
}

type testEnv struct {
	server   *httptest.Server
	sessions *session.Store
	planner  *scriptedPlanner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	sessions, err := session.Open(session.Options{InMemory: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	pc := &scriptedPlanner{}
	engine := flow.New(sessions, pc, nil, 5, nil)
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)

	handler := NewHandler(repo, sessions, engine, issuer, []string{"localhost"})
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, sessions: sessions, planner: pc}
}

func (e *testEnv) postJSON(t *testing.T, path, token string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response from %s: %v", path, err)
	}
	return resp, decoded
}

func (e *testEnv) signupAndLogin(t *testing.T, username, password string) string {
	t.Helper()
	resp, _ := e.postJSON(t, "/signup", "", map[string]string{
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}

	form := url.Values{"username": {username}, "password": {password}}
	loginResp, err := e.server.Client().PostForm(e.server.URL+"/token", form)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d", loginResp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&body); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if body.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", body.TokenType)
	}
	return body.AccessToken
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSignupAndToken(t *testing.T) {
	env := newTestEnv(t)

	token := env.signupAndLogin(t, "alice", "pw123")
	if token == "" {
		t.Fatal("expected a non-empty access token")
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t, "alice", "pw123")

	resp, body := env.postJSON(t, "/signup", "", map[string]string{
		"username": "alice",
		"password": "other",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if string(body["error"]) != `"username already registered"` {
		t.Errorf("error = %s", body["error"])
	}
}

func TestSignupRejectsEmptyFields(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.postJSON(t, "/signup", "", map[string]string{"username": "  ", "password": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTokenWrongCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.signupAndLogin(t, "alice", "pw123")

	// Wrong password and unknown username must be indistinguishable.
	var bodies []string
	for _, form := range []url.Values{
		{"username": {"alice"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {"pw123"}},
	} {
		resp, err := env.server.Client().PostForm(env.server.URL+"/token", form)
		if err != nil {
			t.Fatalf("token request: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		resp.Body.Close()
		bodies = append(bodies, body["error"])
	}
	if bodies[0] != bodies[1] {
		t.Errorf("error bodies differ: %q vs %q", bodies[0], bodies[1])
	}
}

func TestChatRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/chat", "", map[string]string{
		"user_message": "hi",
		"session_id":   "s1",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if string(body["error"]) != `"not authenticated"` {
		t.Errorf("error = %s", body["error"])
	}
}

func TestChatReturnsActionClarification(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t, "alice", "pw123")

	env.planner.created = &domain.PlanRun{
		ID:    "run-1",
		State: domain.StateNeedClarification,
		Clarifications: []domain.Clarification{
			{ID: "c1", Kind: domain.ClarificationAction, Guidance: "Authorize Xero", ActionURL: "https://example/auth"},
		},
	}

	resp, body := env.postJSON(t, "/chat", token, map[string]string{
		"user_message": "create an invoice",
		"session_id":   "s1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body["response_type"]) != `"clarification_action"` {
		t.Errorf("response_type = %s", body["response_type"])
	}
	if string(body["action_url"]) != `"https://example/auth"` {
		t.Errorf("action_url = %s", body["action_url"])
	}

	// The run is now stored so the session can resume later.
	if _, err := env.sessions.GetPlanRun(context.Background(), "s1"); err != nil {
		t.Errorf("expected stored run, got %v", err)
	}
}

func TestChatValidatesBody(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t, "alice", "pw123")

	resp, _ := env.postJSON(t, "/chat", token, map[string]string{"user_message": "hi"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing session_id", resp.StatusCode)
	}
}

func TestResumeFlowWithoutPlan(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t, "alice", "pw123")

	resp, body := env.postJSON(t, "/resume_flow", token, map[string]string{
		"user_message": "done",
		"session_id":   "s1",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if string(body["error"]) != `"No active plan found for this session."` {
		t.Errorf("error = %s", body["error"])
	}
}

func TestResumeFlowCompletesRun(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t, "alice", "pw123")

	paused := &domain.PlanRun{
		ID:    "run-1",
		State: domain.StateNeedClarification,
		Clarifications: []domain.Clarification{
			{ID: "c1", Kind: domain.ClarificationInput, Guidance: "which country?"},
		},
	}
	if err := env.sessions.PutPlanRun(context.Background(), "s1", paused); err != nil {
		t.Fatalf("PutPlanRun failed: %v", err)
	}
	env.planner.resumed = &domain.PlanRun{
		ID:     "run-1",
		State:  domain.StateDone,
		Output: json.RawMessage(`{"hs_code":"1234.56"}`),
	}

	resp, body := env.postJSON(t, "/resume_flow", token, map[string]string{
		"user_message": "germany",
		"session_id":   "s1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body["response_type"]) != `"success"` {
		t.Errorf("response_type = %s", body["response_type"])
	}
	if string(body["result"]) != `{"hs_code":"1234.56"}` {
		t.Errorf("result = %s, want verbatim planner output", body["result"])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t, "alice", "pw123")
	ctx := context.Background()

	for _, m := range []struct{ role, content string }{
		{domain.RoleUser, "find hs code"},
		{domain.RoleAssistant, "which country?"},
	} {
		if err := env.sessions.AppendHistory(ctx, "s1", m.role, m.content); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/history?session_id=s1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("history request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].Content != "find hs code" {
		t.Errorf("unexpected history: %+v", body.Messages)
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	token := env.signupAndLogin(t, "alice", "pw123")

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/chat",
		strings.NewReader(`{"user_message":"hi","session_id":"s1","bogus":1}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("chat request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
