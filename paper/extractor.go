package paper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DocumentExtractor is the boundary to PDF tooling. Parsing internals stay
// behind it; the rest of the system only sees text and rendered page images.
type DocumentExtractor interface {
	// Text extracts the full plain text of the document
	Text(ctx context.Context, path string) (string, error)

	// RenderPage renders one page (1-based) to a PNG at outPath
	RenderPage(ctx context.Context, path string, page int, outPath string) error
}

// PopplerExtractor shells out to the poppler utilities (pdftotext,
// pdftoppm). Plain-text uploads bypass the tools entirely.
type PopplerExtractor struct{}

// NewPopplerExtractor creates the default extractor
func NewPopplerExtractor() *PopplerExtractor {
	return &PopplerExtractor{}
}

// Text extracts full text. For .txt and .md uploads the file content is the
// text; PDFs go through pdftotext.
func (e *PopplerExtractor) Text(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read document: %w", err)
		}
		return string(data), nil
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext %s: %w", filepath.Base(path), err)
	}
	return out.String(), nil
}

// RenderPage renders a single page to PNG via pdftoppm
func (e *PopplerExtractor) RenderPage(ctx context.Context, path string, page int, outPath string) error {
	if page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", page)
	}

	// pdftoppm writes <prefix>-<page>.png; render to a prefix next to the
	// target and move the result into place
	prefix := strings.TrimSuffix(outPath, ".png")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-r", "150",
		"-f", strconv.Itoa(page), "-l", strconv.Itoa(page),
		path, prefix)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pdftoppm %s page %d: %w", filepath.Base(path), page, err)
	}

	rendered, err := findRenderedPage(prefix, page)
	if err != nil {
		return err
	}
	if rendered == outPath {
		return nil
	}
	return os.Rename(rendered, outPath)
}

// findRenderedPage locates pdftoppm's output, which pads the page number
// differently depending on the document's page count
func findRenderedPage(prefix string, page int) (string, error) {
	candidates := []string{
		fmt.Sprintf("%s-%d.png", prefix, page),
		fmt.Sprintf("%s-%02d.png", prefix, page),
		fmt.Sprintf("%s-%03d.png", prefix, page),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("rendered page %d not found under %s", page, prefix)
}
