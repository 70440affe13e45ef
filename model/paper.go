package model

import (
	"strings"
	"time"
)

// Paper is an uploaded document under discussion
type Paper struct {
	// PaperID is a unique identifier assigned at intake
	PaperID string

	// Title is parsed from the initial analysis, or the filename as fallback
	Title string

	// FilePath is the absolute path of the stored document (.pdf, .txt, .md)
	FilePath string

	// Language is the response language preference for this paper
	Language string

	// Summary is the initial quick-scan summary
	Summary string

	// Profile is the structural profile derived at analysis time
	Profile PaperProfile

	CreatedAt time.Time
}

// PaperProfile is the structural profile of a paper, derived once at analysis
// time and used by the stage classifier.
type PaperProfile struct {
	HasMath    bool     `json:"has_math" yaml:"has_math" bson:"has_math"`
	HasFigures bool     `json:"has_figures" yaml:"has_figures" bson:"has_figures"`
	HasCode    bool     `json:"has_code" yaml:"has_code" bson:"has_code"`
	Sections   []string `json:"sections" yaml:"sections" bson:"sections"`
}

// FindSection returns the section whose name is mentioned in text, if any.
// Matching is case-insensitive substring containment, longest section first,
// so "Method" never shadows "Methodology" when both exist.
func (p PaperProfile) FindSection(text string) (string, bool) {
	lower := strings.ToLower(text)
	best := ""
	for _, section := range p.Sections {
		if section == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(section)) && len(section) > len(best) {
			best = section
		}
	}
	return best, best != ""
}

// PaperContent is the extractable content handed to the orchestrator.
// Read-only from the engine's perspective.
type PaperContent struct {
	FullText     string
	PageImages   []string // paths of rendered page images
	NamedFigures []Figure // figures already extracted for this paper
}

// Figure is a cached figure-extraction artifact
type Figure struct {
	// ArtifactID uniquely identifies the artifact
	ArtifactID string `json:"artifact_id" yaml:"artifact_id" bson:"artifact_id"`

	// Ref is the normalized figure reference the artifact was extracted for
	// (e.g. "p3:attention architecture diagram")
	Ref string `json:"ref" yaml:"ref" bson:"ref"`

	Title string `json:"title" yaml:"title" bson:"title"`
	Page  int    `json:"page" yaml:"page" bson:"page"`

	// Path is the absolute location of the image on disk
	Path string `json:"path" yaml:"path" bson:"path"`

	// PathRelative is the path served to clients under /uploads
	PathRelative string `json:"path_relative" yaml:"path_relative" bson:"path_relative"`

	ExtractedAt time.Time `json:"extracted_at" yaml:"extracted_at" bson:"extracted_at"`
}
