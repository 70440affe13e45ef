package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
	"github.com/HaoliangCheng/paper-reading-agent/paper"
	"github.com/HaoliangCheng/paper-reading-agent/store"
	"github.com/sashabaranov/go-openai"
)

// Config bounds one turn of the agent loop
type Config struct {
	// MaxIterations caps plan-execute-observe cycles per turn
	MaxIterations int

	// MaxRetries bounds attempts per planner call on upstream errors
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry
	RetryBackoff time.Duration

	// ToolTimeout bounds each tool execution
	ToolTimeout time.Duration

	Limits ContextLimits
}

// DefaultConfig returns the loop bounds used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxIterations: 10,
		MaxRetries:    3,
		RetryBackoff:  500 * time.Millisecond,
		ToolTimeout:   60 * time.Second,
		Limits: ContextLimits{
			MaxMessages:     20,
			MaxTotalBytes:   64 * 1024,
			MaxMessageBytes: 2000,
		},
	}
}

// Engine orchestrates turns: stage classification, context assembly, the
// bounded plan-execute-observe loop, and persistence
type Engine struct {
	store      store.Store
	papers     *paper.Repository
	classifier *Classifier
	planner    Planner
	searcher   Searcher
	guard      *TurnGuard
	config     Config
}

// NewEngine wires an engine from its collaborators
func NewEngine(st store.Store, papers *paper.Repository, classifier *Classifier, planner Planner, searcher Searcher, config Config) *Engine {
	if config.MaxIterations <= 0 {
		config = DefaultConfig()
	}
	return &Engine{
		store:      st,
		papers:     papers,
		classifier: classifier,
		planner:    planner,
		searcher:   searcher,
		guard:      NewTurnGuard(),
		config:     config,
	}
}

// ProcessTurn runs one full conversational turn for a paper, streaming
// progress through the reporter. Exactly one terminal event is reported
// unless the caller cancels before any answer exists.
func (e *Engine) ProcessTurn(ctx context.Context, paperID, userMessage string, reporter Reporter) error {
	sessionID := "session-" + paperID
	if err := e.guard.Begin(sessionID); err != nil {
		return err
	}
	defer e.guard.End(sessionID)

	session, err := e.store.Load(sessionID)
	if err != nil {
		return err
	}
	doc, err := e.store.GetPaper(paperID)
	if err != nil {
		return err
	}
	content, err := e.papers.Content(ctx, paperID)
	if err != nil {
		return err
	}

	cls := e.classifier.Classify(doc.Profile, session, userMessage)
	session.CurrentStage = cls.Stage
	session.CurrentSection = cls.Section
	log.Log.Infof("Turn for paper %s: stage %s", paperID, cls.Stage)

	history := session.Messages
	if err := e.store.AppendMessage(sessionID, model.NewUserMessage(paperID, userMessage)); err != nil {
		return err
	}

	profile, err := e.store.LoadProfile()
	if err != nil {
		log.Log.Warnf("Failed to load user profile: %v", err)
		profile = &model.UserProfile{}
	}

	ts := &turnState{
		engine:  e,
		session: session,
		paper:   doc,
		stage:   cls,
	}
	registry := e.buildRegistry(ts)

	answer, degraded, err := e.runLoop(ctx, loopInput{
		session:     session,
		paper:       doc,
		content:     content,
		profile:     profile,
		history:     history,
		userMessage: userMessage,
		state:       ts,
		registry:    registry,
	}, reporter)

	// stage changes and freshly cached artifacts survive even failed turns
	e.persistTurnState(sessionID, ts)

	if err != nil {
		if ctx.Err() == nil {
			reporter.Report(ErrorEvent(err))
		}
		return err
	}

	if err := e.store.AppendMessage(sessionID, model.NewAssistantMessage(paperID, answer)); err != nil {
		return err
	}
	reporter.Report(ResponseEvent(answer, string(ts.stage.Stage), ts.newFigures, degraded))
	return nil
}

type loopInput struct {
	session     *model.Session
	paper       *model.Paper
	content     *model.PaperContent
	profile     *model.UserProfile
	history     []*model.Message
	userMessage string
	state       *turnState
	registry    *model.ToolRegistry
}

// runLoop drives the plan-execute-observe cycle until an answer, the
// iteration cap, or an unrecoverable error
func (e *Engine) runLoop(ctx context.Context, in loopInput, reporter Reporter) (answer string, degraded bool, err error) {
	stageDef, _ := e.classifier.Definition(in.state.stage.Stage)
	tc := BuildContext(ContextInput{
		PaperTitle:  in.paper.Title,
		PaperText:   in.content.FullText,
		Language:    in.session.Language,
		Stage:       stageDef,
		Section:     in.state.stage.Section,
		Plan:        in.session.Plan,
		Profile:     in.profile,
		Figures:     in.session.ExtractedFigures,
		History:     in.history,
		UserMessage: in.userMessage,
	}, e.config.Limits)

	transcript := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: tc.SystemPrompt},
	}
	for _, msg := range tc.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		transcript = append(transcript, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	transcript = append(transcript, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: tc.UserMessage,
	})

	tools := in.registry.OpenAITools()
	var observations []string

	for cycle := 1; cycle <= e.config.MaxIterations; cycle++ {
		reporter.Report(StatusEvent("Thinking"))

		decision, err := e.planWithRetry(ctx, transcript, tools)
		if err != nil {
			return "", false, err
		}

		if content, ok := decision.FinalAnswer(); ok {
			return content, false, nil
		}

		calls, _ := decision.ToolCalls()
		if len(calls) == 0 {
			return "", false, fmt.Errorf("planner returned neither answer nor tool calls")
		}

		results := e.executeBatch(ctx, in.registry, calls, reporter)

		transcript = appendToolExchange(transcript, calls, results)
		for _, res := range results {
			observations = append(observations, res.Observation())
		}

		// client gone: in-flight work is already cached, produce no answer
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
	}

	log.Log.Warnf("Loop hit iteration cap (%d) for paper %s", e.config.MaxIterations, in.paper.PaperID)
	return degradedAnswer(observations), true, nil
}

// planWithRetry retries upstream planner failures with exponential
// backoff; context errors are never retried
func (e *Engine) planWithRetry(ctx context.Context, transcript []openai.ChatCompletionMessage, tools []openai.Tool) (Decision, error) {
	backoff := e.config.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		decision, err := e.planner.Plan(ctx, transcript, tools)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		if attempt < e.config.MaxRetries {
			log.Log.Warnf("Planner attempt %d failed, retrying in %s: %v", attempt, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Decision{}, ctx.Err()
			}
			backoff *= 2
		}
	}
	return Decision{}, fmt.Errorf("planner failed after %d attempts: %w", e.config.MaxRetries, lastErr)
}

// executeBatch runs one request's calls concurrently and folds the
// results in issuance order regardless of completion order
func (e *Engine) executeBatch(ctx context.Context, registry *model.ToolRegistry, calls []model.ToolCall, reporter Reporter) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))
	done := make(chan int, len(calls))

	for i, call := range calls {
		reporter.Report(StatusEvent("Running " + registry.DisplayName(call.Name)))
		go func(i int, call model.ToolCall) {
			results[i] = registry.Execute(ctx, call, e.config.ToolTimeout)
			done <- i
		}(i, call)
	}
	for range calls {
		<-done
	}
	return results
}

// appendToolExchange records one tool round in the transcript: the
// assistant's calls followed by one tool message per result
func appendToolExchange(transcript []openai.ChatCompletionMessage, calls []model.ToolCall, results []model.ToolResult) []openai.ChatCompletionMessage {
	assistantCalls := make([]openai.ToolCall, 0, len(calls))
	for _, call := range calls {
		assistantCalls = append(assistantCalls, openai.ToolCall{
			ID:   call.CallID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	transcript = append(transcript, openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		ToolCalls: assistantCalls,
	})

	for i, res := range results {
		transcript = append(transcript, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    res.Observation(),
			Name:       res.Name,
			ToolCallID: calls[i].CallID,
		})
	}
	return transcript
}

// degradedAnswer builds the budget-exhausted response from whatever the
// tools observed. Always non-empty and clearly flagged.
func degradedAnswer(observations []string) string {
	var sb strings.Builder
	sb.WriteString("I couldn't finish working through this within the turn's budget. ")

	useful := observations[:0:0]
	for _, obs := range observations {
		if strings.TrimSpace(obs) != "" {
			useful = append(useful, obs)
		}
	}
	if len(useful) == 0 {
		sb.WriteString("I'm sorry — I have no partial results to share. Please try narrowing the question or asking again.")
		return sb.String()
	}

	sb.WriteString("Here is what I gathered before stopping:\n")
	for _, obs := range useful {
		sb.WriteString("- ")
		sb.WriteString(obs)
		sb.WriteString("\n")
	}
	return sb.String()
}

// persistTurnState folds the turn's durable effects (stage, bound
// section, new artifacts) back into the stored session
func (e *Engine) persistTurnState(sessionID string, ts *turnState) {
	session, err := e.store.Load(sessionID)
	if err != nil {
		log.Log.Warnf("Failed to reload session %s: %v", sessionID, err)
		return
	}

	session.CurrentStage = ts.stage.Stage
	session.CurrentSection = ts.stage.Section
	for _, fig := range ts.newFigures {
		if _, ok := session.FindFigure(fig.Ref); !ok {
			session.ExtractedFigures = append(session.ExtractedFigures, fig)
		}
	}
	if err := e.store.Save(session); err != nil {
		log.Log.Warnf("Failed to persist session %s: %v", sessionID, err)
	}
}
