package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
)

const planSystemPrompt = `You design a reading plan for one research paper.
Output ONLY a JSON array, no prose. Each element:
{"stage_id": "...", "title": "...", "description": "..."}
Valid stage_id values: quick_scan, context_and_contribution, methodology,
section_explorer, section_deep_dive, math_understanding, code_analysis,
critical_analysis. Order the steps as the user should read. Include
math_understanding only when the paper has heavy math, code_analysis only
when it references an implementation.`

const summarySystemPrompt = `You write the opening summary for a research paper,
shown to the reader right after upload. Cover, briefly: the title and authors,
the problem addressed, the core approach, and the main findings. A few short
paragraphs, no headings.`

// GenerateSummary produces the quick-scan summary shown right after
// analysis. Returns empty without error when the planner cannot complete.
func (e *Engine) GenerateSummary(ctx context.Context, doc *model.Paper) (string, error) {
	completer, ok := e.planner.(Completer)
	if !ok {
		return "", nil
	}

	content, err := e.papers.Content(ctx, doc.PaperID)
	if err != nil {
		return "", err
	}
	excerpt := content.FullText
	if len(excerpt) > 12000 {
		excerpt = excerpt[:12000]
	}
	prompt := fmt.Sprintf("Title: %s\nRespond in language: %s\n\nPaper text (truncated):\n%s",
		doc.Title, doc.Language, excerpt)
	return completer.Complete(ctx, summarySystemPrompt, prompt)
}

// GeneratePlan produces the reading plan for a paper. LLM-backed when the
// planner supports completions; the structural fallback keeps analysis
// working without one.
func (e *Engine) GeneratePlan(ctx context.Context, paperID string) (model.ReadingPlan, error) {
	doc, err := e.store.GetPaper(paperID)
	if err != nil {
		return model.ReadingPlan{}, err
	}

	completer, ok := e.planner.(Completer)
	if !ok {
		return fallbackPlan(doc.Profile), nil
	}

	content, err := e.papers.Content(ctx, paperID)
	if err != nil {
		return model.ReadingPlan{}, err
	}

	excerpt := content.FullText
	if len(excerpt) > 12000 {
		excerpt = excerpt[:12000]
	}
	prompt := fmt.Sprintf("Title: %s\nHasMath: %t\nHasCode: %t\nSections: %s\n\nPaper text (truncated):\n%s",
		doc.Title, doc.Profile.HasMath, doc.Profile.HasCode,
		strings.Join(doc.Profile.Sections, "; "), excerpt)

	raw, err := completer.Complete(ctx, planSystemPrompt, prompt)
	if err != nil {
		log.Log.Warnf("Plan generation failed for paper %s, using fallback: %v", paperID, err)
		return fallbackPlan(doc.Profile), nil
	}

	plan, err := parsePlan(raw, doc.Profile)
	if err != nil {
		log.Log.Warnf("Plan response unparseable for paper %s, using fallback: %v", paperID, err)
		return fallbackPlan(doc.Profile), nil
	}
	return plan, nil
}

// parsePlan decodes the model's JSON plan, tolerating a markdown fence,
// and drops items whose stage the paper cannot support
func parsePlan(raw string, profile model.PaperProfile) (model.ReadingPlan, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var items []model.PlanItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return model.ReadingPlan{}, fmt.Errorf("invalid plan JSON: %w", err)
	}

	plan := model.ReadingPlan{}
	for _, item := range items {
		if !item.StageID.Valid() {
			continue
		}
		if item.StageID == model.StageMathUnderstanding && !profile.HasMath {
			continue
		}
		if item.StageID == model.StageCodeAnalysis && !profile.HasCode {
			continue
		}
		if item.Title == "" {
			item.Title = item.StageID.Name()
		}
		plan.Items = append(plan.Items, item)
	}
	if len(plan.Items) == 0 {
		return model.ReadingPlan{}, fmt.Errorf("plan contains no usable items")
	}
	return plan, nil
}

// fallbackPlan derives a plan from the paper's structure alone
func fallbackPlan(profile model.PaperProfile) model.ReadingPlan {
	plan := model.ReadingPlan{Items: []model.PlanItem{
		{StageID: model.StageQuickScan, Title: "Quick Scan", Description: "Get a first impression of the paper"},
		{StageID: model.StageContextAndContribution, Title: "Context & Contribution", Description: "Understand the gap and the claims"},
		{StageID: model.StageMethodology, Title: "Methodology", Description: "Understand how the approach works"},
	}}
	if profile.HasMath {
		plan.Items = append(plan.Items, model.PlanItem{
			StageID: model.StageMathUnderstanding, Title: "Math Understanding",
			Description: "Work through the key derivations"})
	}
	if profile.HasCode {
		plan.Items = append(plan.Items, model.PlanItem{
			StageID: model.StageCodeAnalysis, Title: "Code Analysis",
			Description: "Connect the paper to its implementation"})
	}
	plan.Items = append(plan.Items, model.PlanItem{
		StageID: model.StageCriticalAnalysis, Title: "Critical Analysis",
		Description: "Assess strengths, limitations, and open questions"})
	return plan
}

// StartSession creates the session for a freshly analyzed paper, with its
// reading plan attached. Idempotent: an existing session is returned as-is.
func (e *Engine) StartSession(ctx context.Context, paperID string) (*model.Session, error) {
	sessionID := "session-" + paperID
	if existing, err := e.store.Load(sessionID); err == nil {
		return existing, nil
	}

	doc, err := e.store.GetPaper(paperID)
	if err != nil {
		return nil, err
	}

	if doc.Summary == "" {
		summary, err := e.GenerateSummary(ctx, doc)
		if err != nil {
			log.Log.Warnf("Failed to generate summary for paper %s: %v", paperID, err)
		} else if summary != "" {
			doc.Summary = summary
			if err := e.store.PutPaper(doc); err != nil {
				log.Log.Warnf("Failed to persist summary for paper %s: %v", paperID, err)
			}
		}
	}

	session := model.NewSession(paperID, doc.Language)
	plan, err := e.GeneratePlan(ctx, paperID)
	if err != nil {
		log.Log.Warnf("Failed to generate plan for paper %s: %v", paperID, err)
	} else {
		session.Plan = plan
	}

	if err := e.store.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}

// RegeneratePlan rebuilds and persists the reading plan for a paper
func (e *Engine) RegeneratePlan(ctx context.Context, paperID string) (model.ReadingPlan, error) {
	session, err := e.store.Load("session-" + paperID)
	if err != nil {
		return model.ReadingPlan{}, err
	}

	plan, err := e.GeneratePlan(ctx, paperID)
	if err != nil {
		return model.ReadingPlan{}, err
	}
	session.Plan = plan
	if err := e.store.Save(session); err != nil {
		return model.ReadingPlan{}, err
	}
	return plan, nil
}
