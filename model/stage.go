package model

import "strings"

// Stage is a conversational mode governing response style and focus.
// A session has exactly one active stage at any time.
type Stage string

const (
	StageQuickScan              Stage = "quick_scan"
	StageContextAndContribution Stage = "context_and_contribution"
	StageMethodology            Stage = "methodology"
	StageSectionExplorer        Stage = "section_explorer"
	StageSectionDeepDive        Stage = "section_deep_dive"
	StageMathUnderstanding      Stage = "math_understanding"
	StageCodeAnalysis           Stage = "code_analysis"
	StageCriticalAnalysis       Stage = "critical_analysis"
	// StageQA is the generic fallback when no stage criteria match.
	StageQA Stage = "qa"
)

// stageNames maps stage ids to human-readable names
var stageNames = map[Stage]string{
	StageQuickScan:              "Quick Scan",
	StageContextAndContribution: "Context & Contribution",
	StageMethodology:            "Methodology",
	StageSectionExplorer:        "Section Explorer",
	StageSectionDeepDive:        "Section Deep Dive",
	StageMathUnderstanding:      "Math Understanding",
	StageCodeAnalysis:           "Code Analysis",
	StageCriticalAnalysis:       "Critical Analysis",
	StageQA:                     "Q&A",
}

// AllStages returns every known stage id in a fixed order
func AllStages() []Stage {
	return []Stage{
		StageQuickScan,
		StageContextAndContribution,
		StageMethodology,
		StageSectionExplorer,
		StageSectionDeepDive,
		StageMathUnderstanding,
		StageCodeAnalysis,
		StageCriticalAnalysis,
		StageQA,
	}
}

// Name returns the human-readable name for the stage
func (s Stage) Name() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	parts := strings.Split(string(s), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// Valid reports whether the stage id belongs to the known set
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}
