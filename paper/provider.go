package paper

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/HaoliangCheng/paper-reading-agent/model"
	"github.com/HaoliangCheng/paper-reading-agent/store"
)

// Provider exposes paper content and profile to the engine, read-only
type Provider interface {
	Content(ctx context.Context, paperID string) (*model.PaperContent, error)
	Profile(ctx context.Context, paperID string) (model.PaperProfile, error)
}

// Repository implements Provider over the filesystem upload directory plus
// the paper store. Extracted text is cached in memory per paper; figure
// artifacts are cached on disk with a YAML manifest.
type Repository struct {
	rootPath  string
	papers    store.PaperStore
	extractor DocumentExtractor

	mu      sync.RWMutex
	content map[string]*model.PaperContent

	figMu    sync.Mutex
	figLocks map[string]*sync.Mutex
}

// NewRepository creates a repository rooted at the upload directory
func NewRepository(rootPath string, papers store.PaperStore, extractor DocumentExtractor) (*Repository, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("invalid upload path: %w", err)
	}
	return &Repository{
		rootPath:  absPath,
		papers:    papers,
		extractor: extractor,
		content:   make(map[string]*model.PaperContent),
		figLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// Content returns the extracted content for a paper, extracting on first
// access and caching thereafter
func (r *Repository) Content(ctx context.Context, paperID string) (*model.PaperContent, error) {
	r.mu.RLock()
	if cached, ok := r.content[paperID]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	paper, err := r.papers.GetPaper(paperID)
	if err != nil {
		return nil, err
	}

	text, err := r.extractor.Text(ctx, paper.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text for paper %s: %w", paperID, err)
	}

	figures, err := r.loadManifest(paperID)
	if err != nil {
		return nil, err
	}

	content := &model.PaperContent{
		FullText:     text,
		NamedFigures: figures,
	}

	r.mu.Lock()
	r.content[paperID] = content
	r.mu.Unlock()

	return content, nil
}

// Profile returns the structural profile recorded at analysis time
func (r *Repository) Profile(ctx context.Context, paperID string) (model.PaperProfile, error) {
	paper, err := r.papers.GetPaper(paperID)
	if err != nil {
		return model.PaperProfile{}, err
	}
	return paper.Profile, nil
}

// InvalidateContent drops the cached content for a paper, or all papers when
// paperID is empty
func (r *Repository) InvalidateContent(paperID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if paperID == "" {
		r.content = make(map[string]*model.PaperContent)
	} else {
		delete(r.content, paperID)
	}
}

// paperLock returns the per-paper mutex guarding figure extraction
func (r *Repository) paperLock(paperID string) *sync.Mutex {
	r.figMu.Lock()
	defer r.figMu.Unlock()
	lock, ok := r.figLocks[paperID]
	if !ok {
		lock = &sync.Mutex{}
		r.figLocks[paperID] = lock
	}
	return lock
}

var (
	mathPattern    = regexp.MustCompile(`(?m)(\$\$|\\begin\{(equation|align|theorem)|\\frac|\\sum_|\\int_|[=<>]\s*\\)`)
	// matches captions and inline references ("See Figure 2") alike
	figurePattern  = regexp.MustCompile(`(?i)\b(figure|fig\.)\s+\d+`)
	codePattern    = regexp.MustCompile(`(?mi)(github\.com/|^\s*algorithm\s+\d+|pseudo-?code|open-?source(d)?\s+(at|code))`)
	sectionPattern = regexp.MustCompile(`(?m)^\s*(\d+)(\.\d+)*\.?\s+([A-Z][A-Za-z][^\n]{2,60})\s*$`)
)

// BuildProfile derives the structural profile from extracted text. Purely
// heuristic; it only gates which stages are offered, never correctness.
func BuildProfile(text string) model.PaperProfile {
	profile := model.PaperProfile{
		HasMath:    mathPattern.MatchString(text),
		HasFigures: figurePattern.MatchString(text),
		HasCode:    codePattern.MatchString(text),
	}

	seen := make(map[string]bool)
	for _, match := range sectionPattern.FindAllStringSubmatch(text, -1) {
		// only top-level numbered headings
		if match[2] != "" {
			continue
		}
		title := strings.TrimSpace(match[3])
		key := strings.ToLower(title)
		if seen[key] {
			continue
		}
		seen[key] = true
		profile.Sections = append(profile.Sections, title)
		if len(profile.Sections) >= 20 {
			break
		}
	}
	return profile
}

// TitleFromText guesses the paper title: the first non-empty line that is
// not an arXiv banner or page artifact
func TitleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) < 8 {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "arxiv:") || strings.HasPrefix(lower, "published") {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return "Untitled paper"
}
