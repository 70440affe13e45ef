package paper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
	"github.com/google/uuid"
)

const maxUploadBytes = 64 << 20 // 64 MiB

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Intake stores an uploaded document, extracts its text, and registers the
// paper. The returned paper carries the derived title and profile.
func (r *Repository) Intake(ctx context.Context, filename, language string, src io.Reader) (*model.Paper, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf", ".txt", ".md":
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .pdf, .txt, or .md)", ext)
	}

	paperID := uuid.NewString()
	if err := os.MkdirAll(r.rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	destPath := filepath.Join(r.rootPath, paperID+ext)
	dest, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	written, err := io.Copy(dest, io.LimitReader(src, maxUploadBytes+1))
	closeErr := dest.Close()
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if closeErr != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to store upload: %w", closeErr)
	}
	if written > maxUploadBytes {
		os.Remove(destPath)
		return nil, fmt.Errorf("upload exceeds %d MiB limit", maxUploadBytes>>20)
	}

	text, err := r.extractor.Text(ctx, destPath)
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to extract document text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		os.Remove(destPath)
		return nil, fmt.Errorf("document contains no extractable text")
	}

	paper := &model.Paper{
		PaperID:   paperID,
		Title:     TitleFromText(text),
		FilePath:  destPath,
		Language:  language,
		Profile:   BuildProfile(text),
		CreatedAt: time.Now(),
	}
	if err := r.papers.PutPaper(paper); err != nil {
		os.Remove(destPath)
		return nil, err
	}

	r.mu.Lock()
	r.content[paperID] = &model.PaperContent{FullText: text}
	r.mu.Unlock()

	log.Log.Infof("Paper %s registered: %q (%d bytes)", paperID, paper.Title, written)
	return paper, nil
}

// IntakeURL downloads a paper from a URL and registers it. arXiv abstract
// URLs are normalized to their PDF form.
func (r *Repository) IntakeURL(ctx context.Context, rawURL, language string) (*model.Paper, error) {
	pdfURL, err := NormalizeArxivURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid paper URL: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download paper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download paper: status %d", resp.StatusCode)
	}

	name := filepath.Base(req.URL.Path)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return r.Intake(ctx, name, language, resp.Body)
}

// NormalizeArxivURL rewrites arXiv abstract links to the corresponding PDF
// link. Non-arXiv URLs pass through untouched after validation.
func NormalizeArxivURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid paper URL %q", rawURL)
	}

	if !strings.HasSuffix(u.Host, "arxiv.org") {
		return u.String(), nil
	}

	// /abs/2301.00001 -> /pdf/2301.00001.pdf
	if rest, ok := strings.CutPrefix(u.Path, "/abs/"); ok {
		u.Path = "/pdf/" + rest
	}
	if strings.HasPrefix(u.Path, "/pdf/") && !strings.HasSuffix(u.Path, ".pdf") {
		u.Path += ".pdf"
	}
	return u.String(), nil
}
