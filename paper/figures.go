package paper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
	"gopkg.in/yaml.v3"
)

// figureManifest is the on-disk record of extracted figure artifacts,
// stored next to the artifacts as figures.yaml
type figureManifest struct {
	PaperID string         `yaml:"paper_id"`
	Figures []model.Figure `yaml:"figures"`
}

var (
	refCleanPattern = regexp.MustCompile(`[^a-z0-9]+`)
	refNamePattern  = regexp.MustCompile(`(figure|table)\s*(\d+)`)
)

// NormalizeFigureRef reduces a figure description to its cache key, so
// "Figure 2", "fig. 2" and "the figure 2 overview" all hit the same
// artifact
func NormalizeFigureRef(description string) string {
	s := strings.ToLower(strings.TrimSpace(description))
	s = strings.ReplaceAll(s, "fig.", "figure")
	s = strings.ReplaceAll(s, "fig ", "figure ")

	if m := refNamePattern.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2]
	}

	s = refCleanPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = s[:60]
	}
	if s == "" {
		s = "figure"
	}
	return s
}

// ExtractFigure renders the figure's page to an image artifact. Extraction
// is idempotent per (paper, normalized ref): a cached artifact is returned
// without re-rendering, and a per-paper mutex keeps a single writer.
func (r *Repository) ExtractFigure(ctx context.Context, paperID string, page int, description string) (model.Figure, error) {
	ref := NormalizeFigureRef(description)

	lock := r.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	figures, err := r.loadManifest(paperID)
	if err != nil {
		return model.Figure{}, err
	}
	for _, fig := range figures {
		if fig.Ref == ref {
			log.Log.Debugf("Figure cache hit: paper %s ref %s", paperID, ref)
			return fig, nil
		}
	}

	paper, err := r.papers.GetPaper(paperID)
	if err != nil {
		return model.Figure{}, err
	}

	figDir := filepath.Join(r.rootPath, paperID, "figures")
	if err := os.MkdirAll(figDir, 0755); err != nil {
		return model.Figure{}, fmt.Errorf("failed to create figure directory: %w", err)
	}

	outPath := filepath.Join(figDir, ref+".png")
	if err := r.extractor.RenderPage(ctx, paper.FilePath, page, outPath); err != nil {
		return model.Figure{}, fmt.Errorf("failed to extract %s: %w", ref, err)
	}

	fig := model.Figure{
		ArtifactID:   paperID + "/" + ref,
		Ref:          ref,
		Title:        strings.TrimSpace(description),
		Page:         page,
		Path:         outPath,
		PathRelative: filepath.Join(paperID, "figures", ref+".png"),
		ExtractedAt:  time.Now(),
	}

	figures = append(figures, fig)
	if err := r.saveManifest(paperID, figures); err != nil {
		return model.Figure{}, err
	}

	r.mu.Lock()
	if cached, ok := r.content[paperID]; ok {
		cached.NamedFigures = append(cached.NamedFigures, fig)
	}
	r.mu.Unlock()

	log.Log.Infof("Figure extracted: paper %s ref %s page %d", paperID, ref, page)
	return fig, nil
}

// Figures returns the paper's extracted artifacts in extraction order
func (r *Repository) Figures(paperID string) ([]model.Figure, error) {
	lock := r.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()
	return r.loadManifest(paperID)
}

func (r *Repository) manifestPath(paperID string) string {
	return filepath.Join(r.rootPath, paperID, "figures.yaml")
}

func (r *Repository) loadManifest(paperID string) ([]model.Figure, error) {
	data, err := os.ReadFile(r.manifestPath(paperID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read figure manifest: %w", err)
	}

	var manifest figureManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse figure manifest: %w", err)
	}
	return manifest.Figures, nil
}

func (r *Repository) saveManifest(paperID string, figures []model.Figure) error {
	manifest := figureManifest{PaperID: paperID, Figures: figures}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal figure manifest: %w", err)
	}

	path := r.manifestPath(paperID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create figure directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write figure manifest: %w", err)
	}
	return nil
}

// RemovePaperFiles deletes a paper's stored document and artifacts. Called
// on paper deletion; missing files are not an error.
func (r *Repository) RemovePaperFiles(paperID string) error {
	paper, err := r.papers.GetPaper(paperID)
	if err == nil && paper.FilePath != "" {
		os.Remove(paper.FilePath)
	}
	if err := os.RemoveAll(filepath.Join(r.rootPath, paperID)); err != nil {
		return fmt.Errorf("failed to remove paper artifacts: %w", err)
	}
	r.InvalidateContent(paperID)
	return nil
}
