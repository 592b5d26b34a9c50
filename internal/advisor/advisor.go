// Package advisor implements the LLM pre-processing gate that decides
// whether a raw user query is complete enough to hand to the planner.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// Assessment statuses.
const (
	StatusReady               = "ready_for_execution"
	StatusClarificationNeeded = "clarification_needed"
)

// Assessment is the advisor's verdict on a user query.
type Assessment struct {
	Status                string `json:"status"`
	EnrichedQuery         string `json:"enriched_query,omitempty"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
}

// Advisor analyzes a user query plus recent chat history.
type Advisor interface {
	Assess(ctx context.Context, userMessage string, history []domain.ChatMessage) (*Assessment, error)
}

// historyWindow is how many trailing history entries the model sees.
const historyWindow = 4

const systemPrompt = `You are a world-class Global Trade Compliance expert. Your task is to analyze a user's request and determine if it contains all the necessary information to be sent to an execution engine. You must consider the previous conversation for context.

CRITICAL RULES:
- If the user asks for an "HS Code", you MUST have a "destination country".
- If the user asks to "calculate duty", you MUST have a "product description", a "value" with "currency", and a "destination country".
- If the user asks to "create an invoice", you MUST have a "customer name", "product description", and an "amount" with a "currency".

Respond in a single, valid JSON object with one of two formats:

1. If the query (combined with history) is complete and ready for execution, respond with:
{"status": "ready_for_execution", "enriched_query": "A complete, self-contained query for the execution engine."}

2. If the query is ambiguous or missing information, respond with:
{"status": "clarification_needed", "clarification_question": "Your expert question to the user to get the missing information."}`

// chatCompleter is the slice of the OpenAI client the advisor uses.
// *openai.Client satisfies it; tests substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI is an Advisor backed by an OpenAI chat model.
type OpenAI struct {
	client chatCompleter
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an advisor using the given API key and model.
func NewOpenAI(apiKey, model string, logger *slog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("advisor API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{client: openai.NewClient(apiKey), model: model, logger: logger}, nil
}

// Assess asks the model whether the query is executable as-is. A malformed
// model response is surfaced as an error, same as any upstream failure.
func (a *OpenAI) Assess(ctx context.Context, userMessage string, history []domain.ChatMessage) (*Assessment, error) {
	window := history
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}
	historyJSON, err := json.Marshal(window)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	userPrompt := fmt.Sprintf(
		"CONVERSATION HISTORY (last %d messages):\n%s\n\nCURRENT USER QUERY: %q",
		historyWindow, historyJSON, userMessage,
	)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("advisor call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("advisor returned no choices")
	}

	assessment, err := ParseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("advisor assessment", "status", assessment.Status)
	return assessment, nil
}

// ParseAssessment decodes a model reply into an Assessment, tolerating
// markdown code fences around the JSON body.
func ParseAssessment(raw string) (*Assessment, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var assessment Assessment
	if err := json.Unmarshal([]byte(cleaned), &assessment); err != nil {
		return nil, fmt.Errorf("advisor returned malformed response: %w", err)
	}
	switch assessment.Status {
	case StatusReady, StatusClarificationNeeded:
		return &assessment, nil
	default:
		return nil, fmt.Errorf("advisor returned unknown status %q", assessment.Status)
	}
}
