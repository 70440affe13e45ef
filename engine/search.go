package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SearchResult is one ranked web search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher answers web queries for the web_search tool. Best-effort: the
// tool recovers failures as observations, never aborting the turn.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// DuckDuckGoSearcher queries the DuckDuckGo Instant Answer API. No API
// key required; coverage is shallow but sufficient for grounding.
type DuckDuckGoSearcher struct {
	client  *http.Client
	baseURL string
}

// NewDuckDuckGoSearcher creates the default searcher
func NewDuckDuckGoSearcher() *DuckDuckGoSearcher {
	return &DuckDuckGoSearcher{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: "https://api.duckduckgo.com/",
	}
}

type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search runs one query and returns up to five results
func (s *DuckDuckGoSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := s.baseURL + "?" + url.Values{
		"q":           {query},
		"format":      {"json"},
		"no_redirect": {"1"},
		"no_html":     {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var body ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	var results []SearchResult
	if body.AbstractText != "" {
		results = append(results, SearchResult{
			Title:   body.Heading,
			URL:     body.AbstractURL,
			Snippet: body.AbstractText,
		})
	}
	for _, topic := range body.RelatedTopics {
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, SearchResult{Title: topic.Text, URL: topic.FirstURL, Snippet: topic.Text})
		if len(results) >= 5 {
			break
		}
	}
	return results, nil
}
