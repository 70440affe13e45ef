package engine

import (
	"embed"
	"fmt"
	"strings"

	"github.com/HaoliangCheng/paper-reading-agent/model"
	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.md
var promptFS embed.FS

// StageDefinition is one stage loaded from its embedded prompt file:
// YAML front-matter (id, name, triggers, requires) followed by the
// markdown instructions handed to the planner.
type StageDefinition struct {
	ID           model.Stage `yaml:"id"`
	Name         string      `yaml:"name"`
	Triggers     []string    `yaml:"triggers"`
	Requires     []string    `yaml:"requires"`
	Instructions string      `yaml:"-"`
}

// available reports whether the paper's profile satisfies the stage's
// requirements
func (d *StageDefinition) available(profile model.PaperProfile) bool {
	for _, req := range d.Requires {
		switch req {
		case "math":
			if !profile.HasMath {
				return false
			}
		case "figures":
			if !profile.HasFigures {
				return false
			}
		case "code":
			if !profile.HasCode {
				return false
			}
		}
	}
	return true
}

// matches reports whether the latest user message carries one of the
// stage's trigger phrases
func (d *StageDefinition) matches(lowerMessage string) bool {
	for _, trigger := range d.Triggers {
		if strings.Contains(lowerMessage, trigger) {
			return true
		}
	}
	return false
}

// StagePolicy resolves ambiguity when several stages trigger at once
type StagePolicy int

const (
	// PolicyKeepCurrent keeps the current stage when it is among the
	// matches, falling back to precedence order otherwise
	PolicyKeepCurrent StagePolicy = iota

	// PolicyFirstMatch always takes the first match in precedence order
	PolicyFirstMatch
)

// classifyOrder is the precedence used when several stages trigger.
// Specific intents outrank broad ones.
var classifyOrder = []model.Stage{
	model.StageMethodology,
	model.StageMathUnderstanding,
	model.StageCodeAnalysis,
	model.StageSectionExplorer,
	model.StageContextAndContribution,
	model.StageCriticalAnalysis,
	model.StageQuickScan,
}

// Classification is the classifier's decision for one turn
type Classification struct {
	Stage   model.Stage
	Section string // bound section, set only for section stages
}

// Classifier selects the stage governing a turn. Fully deterministic:
// the same (profile, session, message) always yields the same stage.
type Classifier struct {
	stages map[model.Stage]*StageDefinition
	policy StagePolicy
}

// NewClassifier loads the embedded stage definitions
func NewClassifier(policy StagePolicy) (*Classifier, error) {
	stages, err := loadStageDefinitions()
	if err != nil {
		return nil, err
	}
	return &Classifier{stages: stages, policy: policy}, nil
}

func loadStageDefinitions() (map[model.Stage]*StageDefinition, error) {
	entries, err := promptFS.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read stage prompts: %w", err)
	}

	stages := make(map[model.Stage]*StageDefinition, len(entries))
	for _, entry := range entries {
		data, err := promptFS.ReadFile("prompts/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		def, err := parseStageFile(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		if !def.ID.Valid() {
			return nil, fmt.Errorf("%s declares unknown stage %q", entry.Name(), def.ID)
		}
		stages[def.ID] = def
	}

	for _, id := range model.AllStages() {
		if _, ok := stages[id]; !ok {
			return nil, fmt.Errorf("no prompt file for stage %s", id)
		}
	}
	return stages, nil
}

// parseStageFile splits YAML front-matter from the markdown body
func parseStageFile(content string) (*StageDefinition, error) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return nil, fmt.Errorf("missing front-matter")
	}
	front, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, fmt.Errorf("unterminated front-matter")
	}

	def := &StageDefinition{}
	if err := yaml.Unmarshal([]byte(front), def); err != nil {
		return nil, fmt.Errorf("invalid front-matter: %w", err)
	}
	def.Instructions = strings.TrimSpace(body)
	return def, nil
}

// Definition returns the definition for a stage id
func (c *Classifier) Definition(stage model.Stage) (*StageDefinition, bool) {
	def, ok := c.stages[stage]
	return def, ok
}

// sectionDirectives are the words that mark a message as asking about a
// section of the paper, as opposed to mentioning a section name in passing
// ("walk me through the method" must not bind a section named "Method").
var sectionDirectives = []string{"section", "part", "chapter"}

func sectionDirected(lowerMessage string) bool {
	for _, directive := range sectionDirectives {
		if strings.Contains(lowerMessage, directive) {
			return true
		}
	}
	return false
}

// Classify picks the stage for the next turn. Explicit signals apply on
// every turn, the first included; quick_scan is only the default when the
// first message carries no signal at all.
func (c *Classifier) Classify(profile model.PaperProfile, session *model.Session, userMessage string) Classification {
	lower := strings.ToLower(userMessage)

	// a section-directed request binds the section and outranks triggers
	if sectionDirected(lower) {
		if section, ok := profile.FindSection(lower); ok {
			return Classification{Stage: model.StageSectionDeepDive, Section: section}
		}
	}

	var matches []model.Stage
	for _, id := range classifyOrder {
		def := c.stages[id]
		if !def.available(profile) {
			continue
		}
		if def.matches(lower) {
			matches = append(matches, id)
		}
	}

	switch {
	case len(matches) == 0:
		// a bare section name with no other signal still binds the section
		if section, ok := profile.FindSection(lower); ok {
			return Classification{Stage: model.StageSectionDeepDive, Section: section}
		}
		if len(session.Messages) == 0 && session.CurrentStage == "" {
			return Classification{Stage: model.StageQuickScan}
		}
		if session.CurrentStage == "" {
			return Classification{Stage: model.StageQA}
		}
		return Classification{Stage: session.CurrentStage, Section: session.CurrentSection}
	case len(matches) == 1:
		return Classification{Stage: matches[0]}
	}

	if c.policy == PolicyKeepCurrent {
		for _, m := range matches {
			if m == session.CurrentStage {
				return Classification{Stage: m, Section: session.CurrentSection}
			}
		}
	}
	return Classification{Stage: matches[0]}
}

// ValidateTransition checks a requested stage change (the change_stage
// tool goes through the same gate as the classifier)
func (c *Classifier) ValidateTransition(profile model.PaperProfile, next model.Stage, section string) (Classification, error) {
	def, ok := c.stages[next]
	if !ok {
		return Classification{}, fmt.Errorf("unknown stage %q", next)
	}
	if !def.available(profile) {
		return Classification{}, fmt.Errorf("stage %s is not available for this paper", next)
	}

	if next == model.StageSectionDeepDive {
		if section == "" {
			return Classification{}, fmt.Errorf("stage %s requires a section name", next)
		}
		bound, ok := profile.FindSection(section)
		if !ok {
			return Classification{}, fmt.Errorf("section %q not found in this paper", section)
		}
		return Classification{Stage: next, Section: bound}, nil
	}
	return Classification{Stage: next}, nil
}
