package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
)

// Completer runs secondary single-shot completions (figure explanation).
// OpenAIPlanner implements it; scripted test planners usually do not.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// turnState is the mutable state one turn's tools share. Tools of one
// batch may run concurrently, so mutations go through the mutex.
type turnState struct {
	engine  *Engine
	session *model.Session
	paper   *model.Paper

	mu         sync.Mutex
	stage      Classification
	newFigures []model.Figure
}

// figureInventory returns the session's cached artifacts plus the ones
// extracted earlier this turn, in order
func (ts *turnState) figureInventory() []model.Figure {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]model.Figure, 0, len(ts.session.ExtractedFigures)+len(ts.newFigures))
	out = append(out, ts.session.ExtractedFigures...)
	out = append(out, ts.newFigures...)
	return out
}

// addFigure records a figure extracted this turn and returns its index in
// the inventory. Figures already known keep their existing index.
func (ts *turnState) addFigure(fig model.Figure) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i, existing := range ts.session.ExtractedFigures {
		if existing.Ref == fig.Ref {
			return i
		}
	}
	for i, existing := range ts.newFigures {
		if existing.Ref == fig.Ref {
			return len(ts.session.ExtractedFigures) + i
		}
	}
	ts.newFigures = append(ts.newFigures, fig)
	return len(ts.session.ExtractedFigures) + len(ts.newFigures) - 1
}

func (ts *turnState) setStage(cls Classification) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stage = cls
}

// buildRegistry binds the built-in tool set to one turn's state
func (e *Engine) buildRegistry(ts *turnState) *model.ToolRegistry {
	registry := model.NewToolRegistry()

	registry.MustRegister(model.Tool{
		Name: "extract_figure",
		Description: "Extract a figure from the paper as an image artifact. " +
			"Use the figure's page number and a short description naming it (e.g. \"Figure 2\"). " +
			"Already-extracted figures are returned from cache.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"page": {"type": "integer", "description": "1-based page number the figure appears on"},
				"description": {"type": "string", "description": "Short description naming the figure, e.g. \"Figure 2\""}
			},
			"required": ["page", "description"]
		}`),
	}, "Extracting figure", func(ctx context.Context, args map[string]interface{}) (string, error) {
		page, err := argInt(args, "page")
		if err != nil {
			return "", err
		}
		description, err := argString(args, "description")
		if err != nil {
			return "", err
		}

		fig, err := e.papers.ExtractFigure(ctx, ts.paper.PaperID, page, description)
		if err != nil {
			return "", err
		}
		idx := ts.addFigure(fig)
		return toolJSON(map[string]interface{}{
			"success":  true,
			"ref":      fig.Ref,
			"index":    idx,
			"markdown": figureMarkdown(fig),
		}), nil
	})

	registry.MustRegister(model.Tool{
		Name: "display_figures",
		Description: "Display already-extracted figures inline by index. " +
			"Returns markdown image references to embed in the response.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"indices": {"type": "array", "items": {"type": "integer"}, "description": "Indices into the extracted-figure inventory"},
				"reasoning": {"type": "string", "description": "Why these figures support the explanation"}
			},
			"required": ["indices"]
		}`),
	}, "Displaying figures", func(ctx context.Context, args map[string]interface{}) (string, error) {
		indices, err := argIntSlice(args, "indices")
		if err != nil {
			return "", err
		}

		inventory := ts.figureInventory()
		var blocks []string
		for _, idx := range indices {
			if idx < 0 || idx >= len(inventory) {
				return "", fmt.Errorf("figure index %d out of range (have %d figures)", idx, len(inventory))
			}
			blocks = append(blocks, figureMarkdown(inventory[idx]))
		}
		return toolJSON(map[string]interface{}{"success": true, "markdown": blocks}), nil
	})

	registry.MustRegister(model.Tool{
		Name: "explain_figure",
		Description: "Ask for a focused explanation of an already-extracted figure. " +
			"Use when the user asks what a specific figure shows.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"index": {"type": "integer", "description": "Index into the extracted-figure inventory"},
				"question": {"type": "string", "description": "What to explain about the figure"}
			},
			"required": ["index", "question"]
		}`),
	}, "Explaining figure", func(ctx context.Context, args map[string]interface{}) (string, error) {
		idx, err := argInt(args, "index")
		if err != nil {
			return "", err
		}
		question, err := argString(args, "question")
		if err != nil {
			return "", err
		}

		inventory := ts.figureInventory()
		if idx < 0 || idx >= len(inventory) {
			return "", fmt.Errorf("figure index %d out of range (have %d figures)", idx, len(inventory))
		}
		completer, ok := e.planner.(Completer)
		if !ok {
			return "", fmt.Errorf("figure explanation is not available")
		}

		fig := inventory[idx]
		explanation, err := completer.Complete(ctx,
			"You explain one figure from a research paper, concisely and concretely.",
			fmt.Sprintf("Figure %q from page %d of %q. Question: %s", fig.Title, fig.Page, ts.paper.Title, question))
		if err != nil {
			return "", fmt.Errorf("figure explanation failed: %w", err)
		}
		return toolJSON(map[string]interface{}{"success": true, "explanation": explanation}), nil
	})

	registry.MustRegister(model.Tool{
		Name: "web_search",
		Description: "Search the web for current information beyond the paper, " +
			"such as follow-up work or the released code repository.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"context": {"type": "string", "description": "Why this search is needed"}
			},
			"required": ["query"]
		}`),
	}, "Searching the web", func(ctx context.Context, args map[string]interface{}) (string, error) {
		query, err := argString(args, "query")
		if err != nil {
			return "", err
		}
		if e.searcher == nil {
			return toolJSON(map[string]interface{}{"success": true, "results": []SearchResult{}, "note": "web search is not configured"}), nil
		}

		// best-effort: a failed search becomes an empty result set with a
		// note, never a failed turn
		results, err := e.searcher.Search(ctx, query)
		if err != nil {
			log.Log.Warnf("Web search failed for %q: %v", query, err)
			return toolJSON(map[string]interface{}{"success": true, "results": []SearchResult{}, "note": fmt.Sprintf("search failed: %v", err)}), nil
		}
		return toolJSON(map[string]interface{}{"success": true, "results": results}), nil
	})

	registry.MustRegister(model.Tool{
		Name: "update_user_profile",
		Description: "Record a lasting insight about the user: their background, " +
			"interests, or how they prefer explanations.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key_point": {"type": "string", "description": "The insight to record"}
			},
			"required": ["key_point"]
		}`),
	}, "Updating your profile", func(ctx context.Context, args map[string]interface{}) (string, error) {
		point, err := argString(args, "key_point")
		if err != nil {
			return "", err
		}

		profile, err := e.store.LoadProfile()
		if err != nil {
			return "", fmt.Errorf("failed to load profile: %w", err)
		}
		added := profile.AddKeyPoint(point)
		if added {
			if err := e.store.SaveProfile(profile); err != nil {
				return "", fmt.Errorf("failed to save profile: %w", err)
			}
		}
		return toolJSON(map[string]interface{}{"success": true, "added": added}), nil
	})

	registry.MustRegister(model.Tool{
		Name: "change_stage",
		Description: "Switch the conversation to a different reading stage. " +
			"section_deep_dive additionally needs the section name.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"next_stage": {"type": "string", "description": "Target stage id, e.g. methodology"},
				"section_name": {"type": "string", "description": "Section to bind, for section_deep_dive"}
			},
			"required": ["next_stage"]
		}`),
	}, "Changing stage", func(ctx context.Context, args map[string]interface{}) (string, error) {
		next, err := argString(args, "next_stage")
		if err != nil {
			return "", err
		}
		section, _ := args["section_name"].(string)

		cls, err := e.classifier.ValidateTransition(ts.paper.Profile, model.Stage(next), section)
		if err != nil {
			return "", err
		}
		ts.setStage(cls)
		return toolJSON(map[string]interface{}{"success": true, "stage": string(cls.Stage), "section": cls.Section}), nil
	})

	return registry
}

func figureMarkdown(fig model.Figure) string {
	title := fig.Title
	if title == "" {
		title = fig.Ref
	}
	return fmt.Sprintf("![%s](/uploads/%s)", title, fig.PathRelative)
}

func toolJSON(payload map[string]interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success": false, "error": %q}`, err.Error())
	}
	return string(data)
}

func argString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return val, nil
}

func argInt(args map[string]interface{}, key string) (int, error) {
	switch v := args[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("missing required integer argument %q", key)
	}
}

func argIntSlice(args map[string]interface{}, key string) ([]int, error) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing required array argument %q", key)
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		num, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("argument %q must contain integers", key)
		}
		out = append(out, int(num))
	}
	return out, nil
}
