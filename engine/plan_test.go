package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/HaoliangCheng/paper-reading-agent/model"
	"github.com/sashabaranov/go-openai"
)

// completingPlanner answers directly and serves scripted completions for
// the summary and plan prompts
type completingPlanner struct {
	mu        sync.Mutex
	completed []string
}

func (p *completingPlanner) Plan(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (Decision, error) {
	return AnswerDecision("ok"), nil
}

func (p *completingPlanner) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, systemPrompt)
	if strings.Contains(systemPrompt, "JSON array") {
		return `[{"stage_id": "quick_scan", "title": "Skim", "description": "First pass"},
			{"stage_id": "methodology", "title": "Method", "description": "How it works"}]`, nil
	}
	return "The paper introduces the Transformer architecture.", nil
}

func (p *completingPlanner) completions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completed)
}

func TestStartSessionGeneratesSummaryAndPlan(t *testing.T) {
	planner := &completingPlanner{}
	env := newTestEnv(t, planner)
	if err := env.store.DeleteSession(env.sessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	session, err := env.engine.StartSession(context.Background(), env.paperID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(session.Plan.Items) != 2 {
		t.Fatalf("plan = %+v, want 2 items", session.Plan)
	}
	if session.Plan.Items[0].StageID != model.StageQuickScan || session.Plan.Items[1].StageID != model.StageMethodology {
		t.Errorf("plan stages = %+v", session.Plan.Items)
	}

	doc, err := env.store.GetPaper(env.paperID)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if doc.Summary != "The paper introduces the Transformer architecture." {
		t.Errorf("summary = %q", doc.Summary)
	}
}

func TestStartSessionIdempotent(t *testing.T) {
	planner := &completingPlanner{}
	env := newTestEnv(t, planner)
	if err := env.store.DeleteSession(env.sessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	first, err := env.engine.StartSession(context.Background(), env.paperID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	before := planner.completions()

	second, err := env.engine.StartSession(context.Background(), env.paperID)
	if err != nil {
		t.Fatalf("StartSession (again): %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("session ids differ: %s vs %s", second.SessionID, first.SessionID)
	}
	if planner.completions() != before {
		t.Errorf("second StartSession re-ran analysis completions")
	}
}

func TestParsePlanDropsUnsupportedStages(t *testing.T) {
	raw := "```json\n" + `[
		{"stage_id": "quick_scan", "title": "Skim"},
		{"stage_id": "math_understanding", "title": "Math"},
		{"stage_id": "nonsense", "title": "Bad"}
	]` + "\n```"

	plan, err := parsePlan(raw, model.PaperProfile{HasMath: false})
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if len(plan.Items) != 1 || plan.Items[0].StageID != model.StageQuickScan {
		t.Errorf("plan = %+v, want quick_scan only", plan.Items)
	}
}
