package engine

import (
	"context"
	"fmt"

	"github.com/HaoliangCheng/paper-reading-agent/model"
	"github.com/sashabaranov/go-openai"
)

// Decision is the planner's verdict for one cycle: either a final answer
// or a batch of tool calls, never both. Constructed only through
// AnswerDecision and ToolDecision, so mixed states cannot be built.
type Decision struct {
	answer    string
	hasAnswer bool
	calls     []model.ToolCall
}

// AnswerDecision finishes the turn with the given response text
func AnswerDecision(content string) Decision {
	return Decision{answer: content, hasAnswer: true}
}

// ToolDecision requests execution of the given calls, in order
func ToolDecision(calls ...model.ToolCall) Decision {
	return Decision{calls: calls}
}

// FinalAnswer returns the response text if this is an answer decision
func (d Decision) FinalAnswer() (string, bool) {
	return d.answer, d.hasAnswer
}

// ToolCalls returns the requested calls if this is a tool decision
func (d Decision) ToolCalls() ([]model.ToolCall, bool) {
	if d.hasAnswer {
		return nil, false
	}
	return d.calls, true
}

// Planner produces one decision per cycle from the running transcript.
// Implementations must return either an answer or tool calls; entirely
// empty responses are an error.
type Planner interface {
	Plan(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (Decision, error)
}

// LLMConfig holds configuration for the OpenAI-compatible planner
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// VisionModel serves secondary completions (figure explanation);
	// empty falls back to Model
	VisionModel string
}

// OpenAIPlanner drives decisions through an OpenAI-compatible chat
// completion endpoint with native tool calls
type OpenAIPlanner struct {
	client *openai.Client
	config LLMConfig
}

// NewOpenAIPlanner creates a planner from config
func NewOpenAIPlanner(config LLMConfig) *OpenAIPlanner {
	openaiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		openaiConfig.BaseURL = config.BaseURL
	}
	return &OpenAIPlanner{
		client: openai.NewClientWithConfig(openaiConfig),
		config: config,
	}
}

// Plan runs one chat completion and decodes the choice into a Decision
func (p *OpenAIPlanner) Plan(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (Decision, error) {
	modelName := p.config.Model
	if modelName == "" {
		modelName = "gpt-4o"
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("no choices in LLM response")
	}

	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]model.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, model.ToolCall{
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return ToolDecision(calls...), nil
	}

	if choice.Message.Content == "" {
		return Decision{}, fmt.Errorf("empty LLM response: no content and no tool calls")
	}
	return AnswerDecision(choice.Message.Content), nil
}

// Complete runs a plain single-shot completion without tools. Used by
// secondary tasks (figure explanation, plan generation).
func (p *OpenAIPlanner) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	modelName := p.config.VisionModel
	if modelName == "" {
		modelName = p.config.Model
	}
	if modelName == "" {
		modelName = "gpt-4o"
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}
	return resp.Choices[0].Message.Content, nil
}
