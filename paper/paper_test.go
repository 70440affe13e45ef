package paper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/HaoliangCheng/paper-reading-agent/store"
)

// fakeExtractor counts render calls so tests can assert extraction
// idempotence without poppler installed
type fakeExtractor struct {
	mu      sync.Mutex
	renders int
	text    string
}

func (f *fakeExtractor) Text(ctx context.Context, path string) (string, error) {
	if f.text != "" {
		return f.text, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *fakeExtractor) RenderPage(ctx context.Context, path string, page int, outPath string) error {
	f.mu.Lock()
	f.renders++
	f.mu.Unlock()
	return os.WriteFile(outPath, []byte("png"), 0644)
}

func (f *fakeExtractor) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders
}

func newTestRepository(t *testing.T) (*Repository, *fakeExtractor, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	ex := &fakeExtractor{}
	repo, err := NewRepository(t.TempDir(), s, ex)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo, ex, s
}

const sampleText = `Attention Is All You Need

Abstract
The dominant sequence transduction models are based on recurrent networks.

1 Introduction
Recurrent neural networks have long dominated sequence modeling.

2 Model Architecture
The Transformer follows an encoder-decoder structure. See Figure 2 for the
multi-head attention block.

$$ Attention(Q, K, V) = softmax(QK^T / \sqrt{d_k}) V $$

3 Results
Code is available at github.com/tensorflow/tensor2tensor.
`

func TestIntakeRegistersPaper(t *testing.T) {
	repo, _, _ := newTestRepository(t)

	paper, err := repo.Intake(context.Background(), "attention.txt", "en", strings.NewReader(sampleText))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if paper.Title != "Attention Is All You Need" {
		t.Errorf("title = %q", paper.Title)
	}
	if !paper.Profile.HasMath || !paper.Profile.HasFigures || !paper.Profile.HasCode {
		t.Errorf("profile flags = %+v", paper.Profile)
	}

	content, err := repo.Content(context.Background(), paper.PaperID)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if !strings.Contains(content.FullText, "encoder-decoder") {
		t.Errorf("content missing body text")
	}
}

func TestIntakeRejectsUnsupportedType(t *testing.T) {
	repo, _, _ := newTestRepository(t)

	if _, err := repo.Intake(context.Background(), "paper.docx", "en", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for .docx upload")
	}
}

func TestIntakeRejectsEmptyDocument(t *testing.T) {
	repo, _, _ := newTestRepository(t)

	if _, err := repo.Intake(context.Background(), "empty.txt", "en", strings.NewReader("   \n")); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestBuildProfileSections(t *testing.T) {
	profile := BuildProfile(sampleText)

	want := []string{"Introduction", "Model Architecture", "Results"}
	if len(profile.Sections) != len(want) {
		t.Fatalf("sections = %v, want %v", profile.Sections, want)
	}
	for i, s := range want {
		if profile.Sections[i] != s {
			t.Errorf("section %d = %q, want %q", i, profile.Sections[i], s)
		}
	}
}

func TestBuildProfileInlineFigureReference(t *testing.T) {
	// figure references rarely start a line in extracted text
	profile := BuildProfile("The results are shown in Figure 3 and discussed below.")
	if !profile.HasFigures {
		t.Error("inline figure reference not detected")
	}
	if BuildProfile("No illustrations here at all.").HasFigures {
		t.Error("false positive on figure-free text")
	}
}

func TestNormalizeFigureRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Figure 2", "figure-2"},
		{"fig. 2", "figure-2"},
		{"the Figure 2 overview diagram", "figure-2"},
		{"Table 1", "table-1"},
		{"architecture overview", "architecture-overview"},
		{"", "figure"},
	}
	for _, tc := range cases {
		if got := NormalizeFigureRef(tc.in); got != tc.want {
			t.Errorf("NormalizeFigureRef(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractFigureIdempotent(t *testing.T) {
	repo, ex, _ := newTestRepository(t)

	paper, err := repo.Intake(context.Background(), "attention.txt", "en", strings.NewReader(sampleText))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}

	first, err := repo.ExtractFigure(context.Background(), paper.PaperID, 3, "Figure 2")
	if err != nil {
		t.Fatalf("ExtractFigure: %v", err)
	}
	if first.Ref != "figure-2" || first.Page != 3 {
		t.Errorf("figure = %+v", first)
	}
	if _, err := os.Stat(first.Path); err != nil {
		t.Errorf("artifact not on disk: %v", err)
	}

	// same figure under a different phrasing hits the cache
	second, err := repo.ExtractFigure(context.Background(), paper.PaperID, 3, "fig. 2")
	if err != nil {
		t.Fatalf("ExtractFigure (cached): %v", err)
	}
	if second.ArtifactID != first.ArtifactID {
		t.Errorf("cache miss: %s vs %s", second.ArtifactID, first.ArtifactID)
	}
	if ex.renderCount() != 1 {
		t.Errorf("render count = %d, want 1", ex.renderCount())
	}

	// idempotence survives a fresh repository over the same directory
	repo2, err := NewRepository(repo.rootPath, repo.papers, ex)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	third, err := repo2.ExtractFigure(context.Background(), paper.PaperID, 3, "Figure 2")
	if err != nil {
		t.Fatalf("ExtractFigure (new repo): %v", err)
	}
	if third.ArtifactID != first.ArtifactID || ex.renderCount() != 1 {
		t.Errorf("manifest did not persist: %+v renders=%d", third, ex.renderCount())
	}
}

func TestExtractFigureConcurrentSingleWriter(t *testing.T) {
	repo, ex, _ := newTestRepository(t)

	paper, err := repo.Intake(context.Background(), "attention.txt", "en", strings.NewReader(sampleText))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ExtractFigure(context.Background(), paper.PaperID, 3, "Figure 2"); err != nil {
				t.Errorf("ExtractFigure: %v", err)
			}
		}()
	}
	wg.Wait()

	if ex.renderCount() != 1 {
		t.Errorf("render count = %d, want 1", ex.renderCount())
	}
	figures, err := repo.Figures(paper.PaperID)
	if err != nil {
		t.Fatalf("Figures: %v", err)
	}
	if len(figures) != 1 {
		t.Errorf("manifest has %d figures, want 1", len(figures))
	}
}

func TestNormalizeArxivURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://arxiv.org/abs/1706.03762", "https://arxiv.org/pdf/1706.03762.pdf"},
		{"https://arxiv.org/pdf/1706.03762", "https://arxiv.org/pdf/1706.03762.pdf"},
		{"https://arxiv.org/pdf/1706.03762.pdf", "https://arxiv.org/pdf/1706.03762.pdf"},
		{"https://example.com/paper.pdf", "https://example.com/paper.pdf"},
	}
	for _, tc := range cases {
		got, err := NormalizeArxivURL(tc.in)
		if err != nil {
			t.Errorf("NormalizeArxivURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeArxivURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "not a url", "ftp://arxiv.org/abs/1"} {
		if _, err := NormalizeArxivURL(bad); err == nil {
			t.Errorf("NormalizeArxivURL(%q) succeeded, want error", bad)
		}
	}
}

func TestRemovePaperFiles(t *testing.T) {
	repo, _, s := newTestRepository(t)

	paper, err := repo.Intake(context.Background(), "attention.txt", "en", strings.NewReader(sampleText))
	if err != nil {
		t.Fatalf("Intake: %v", err)
	}
	if _, err := repo.ExtractFigure(context.Background(), paper.PaperID, 1, "Figure 2"); err != nil {
		t.Fatalf("ExtractFigure: %v", err)
	}

	if err := repo.RemovePaperFiles(paper.PaperID); err != nil {
		t.Fatalf("RemovePaperFiles: %v", err)
	}
	if _, err := os.Stat(paper.FilePath); !os.IsNotExist(err) {
		t.Errorf("document survived removal")
	}
	if _, err := os.Stat(filepath.Join(repo.rootPath, paper.PaperID)); !os.IsNotExist(err) {
		t.Errorf("artifact directory survived removal")
	}

	// store record removal is the caller's job
	if _, err := s.GetPaper(paper.PaperID); err != nil {
		t.Errorf("paper record should still exist: %v", err)
	}
}
