package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/HaoliangCheng/paper-reading-agent/model"
)

// ContextLimits bounds the history window handed to the planner. The
// current user message is never truncated.
type ContextLimits struct {
	// MaxMessages is the trailing history window; older messages drop first
	MaxMessages int

	// MaxTotalBytes bounds the whole window; oldest messages drop first
	MaxTotalBytes int

	// MaxMessageBytes truncates oversized old messages from the middle
	MaxMessageBytes int
}

// TurnContext is the full payload assembled for one planner call
type TurnContext struct {
	SystemPrompt string
	History      []*model.Message
	UserMessage  string
}

// ContextInput collects everything the builder folds into a prompt
type ContextInput struct {
	PaperTitle   string
	PaperText    string
	Language     string
	Stage        *StageDefinition
	Section      string
	Plan         model.ReadingPlan
	Profile      *model.UserProfile
	Figures     []model.Figure
	History     []*model.Message
	UserMessage string
}

// BuildContext assembles the bounded planner payload. Pure: no state, no
// side effects, the same input always yields the same payload.
func BuildContext(in ContextInput, limits ContextLimits) TurnContext {
	var sb strings.Builder

	sb.WriteString("You are a patient research-paper reading companion. ")
	sb.WriteString("You are discussing one paper with the user; ground every statement in the paper's text.\n\n")

	fmt.Fprintf(&sb, "# Paper: %s\n\n", in.PaperTitle)
	if in.Language != "" && in.Language != "en" {
		fmt.Fprintf(&sb, "Respond in language: %s\n\n", in.Language)
	}

	if in.Stage != nil {
		fmt.Fprintf(&sb, "# Current stage: %s\n\n%s\n\n", in.Stage.Name, in.Stage.Instructions)
	}
	if in.Section != "" {
		fmt.Fprintf(&sb, "# Bound section\nThe discussion is focused on the section %q.\n\n", in.Section)
	}

	if len(in.Plan.Items) > 0 {
		sb.WriteString("# Reading plan\n")
		for i, item := range in.Plan.Items {
			fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, item.Title, item.Description)
		}
		sb.WriteString("\n")
	}

	if in.Profile != nil && (in.Profile.Name != "" || len(in.Profile.KeyPoints) > 0) {
		sb.WriteString("# About the user\n")
		if in.Profile.Name != "" {
			fmt.Fprintf(&sb, "Name: %s\n", in.Profile.Name)
		}
		for _, point := range in.Profile.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", point)
		}
		sb.WriteString("\n")
	}

	if len(in.Figures) > 0 {
		sb.WriteString("# Extracted figures\n")
		sb.WriteString("Already extracted; reference by index with display_figures instead of re-extracting:\n")
		for i, fig := range in.Figures {
			fmt.Fprintf(&sb, "%d. %s (page %d): %s\n", i, fig.Ref, fig.Page, fig.Title)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("# Paper text\n")
	sb.WriteString(in.PaperText)

	return TurnContext{
		SystemPrompt: sb.String(),
		History:      boundHistory(in.History, limits),
		UserMessage:  in.UserMessage,
	}
}

// boundHistory applies the trailing window and per-message middle
// truncation to old messages
func boundHistory(history []*model.Message, limits ContextLimits) []*model.Message {
	if limits.MaxMessages > 0 && len(history) > limits.MaxMessages {
		history = history[len(history)-limits.MaxMessages:]
	}

	out := make([]*model.Message, 0, len(history))
	total := 0
	for _, msg := range history {
		clipped := truncateMiddle(msg, limits.MaxMessageBytes)
		out = append(out, clipped)
		total += len(clipped.Content)
	}

	for limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes && len(out) > 1 {
		total -= len(out[0].Content)
		out = out[1:]
	}
	return out
}

// truncateMiddle keeps the head and tail of an oversized message, marking
// the cut. Returns the original message when it fits. Cuts land on rune
// boundaries so the planner never sees broken UTF-8.
func truncateMiddle(msg *model.Message, maxBytes int) *model.Message {
	if maxBytes <= 0 || len(msg.Content) <= maxBytes {
		return msg
	}

	half := maxBytes / 2
	head := half
	for head > 0 && !utf8.RuneStart(msg.Content[head]) {
		head--
	}
	tail := len(msg.Content) - half
	for tail < len(msg.Content) && !utf8.RuneStart(msg.Content[tail]) {
		tail++
	}

	clipped := *msg
	clipped.Content = msg.Content[:head] + "... [truncated]" + msg.Content[tail:]
	return &clipped
}
