package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/HaoliangCheng/paper-reading-agent/config"
	"github.com/HaoliangCheng/paper-reading-agent/engine"
	"github.com/HaoliangCheng/paper-reading-agent/paper"
	"github.com/HaoliangCheng/paper-reading-agent/store"
	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
)

// echoPlanner answers every turn with a fixed response
type echoPlanner struct {
	answer string
}

func (p *echoPlanner) Plan(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (engine.Decision, error) {
	return engine.AnswerDecision(p.answer), nil
}

// summarizingPlanner additionally serves the analysis completions
type summarizingPlanner struct {
	echoPlanner
}

func (p *summarizingPlanner) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.Contains(systemPrompt, "JSON array") {
		return `[{"stage_id": "quick_scan", "title": "Skim", "description": "First pass"}]`, nil
	}
	return "The paper studies cache hit rates.", nil
}

type stubExtractor struct{}

func (stubExtractor) Text(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func (stubExtractor) RenderPage(ctx context.Context, path string, page int, outPath string) error {
	return os.WriteFile(outPath, []byte("png"), 0644)
}

const testPaperText = `A Study of Caching

1 Introduction
Caches are everywhere.

2 Evaluation
We measure hit rates.
`

func newTestRouter(t *testing.T) (*gin.Engine, store.Store) {
	return newTestRouterWith(t, &echoPlanner{answer: "streamed answer"})
}

func newTestRouterWith(t *testing.T, planner engine.Planner) (*gin.Engine, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	dir := t.TempDir()
	repo, err := paper.NewRepository(dir, s, stubExtractor{})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}

	classifier, err := engine.NewClassifier(engine.PolicyKeepCurrent)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	eng := engine.NewEngine(s, repo, classifier, planner, nil, engine.DefaultConfig())

	cfg := &config.Config{UploadDir: dir}
	srv := NewServer(cfg, eng, s, repo)

	router := gin.New()
	srv.RegisterRoutes(router)
	return router, s
}

func uploadPaper(t *testing.T, router *gin.Engine) string {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "caching.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(testPaperText)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.WriteField("language", "en")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		PaperID string `json:"paper_id"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode analyze response: %v", err)
	}
	if resp.PaperID == "" {
		t.Fatal("empty paper_id")
	}
	if resp.Title != "A Study of Caching" {
		t.Errorf("title = %q", resp.Title)
	}
	return resp.PaperID
}

func TestAnalyzeRejectsMissingInput(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(""))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzeReturnsSummary(t *testing.T) {
	router, s := newTestRouterWith(t, &summarizingPlanner{echoPlanner{answer: "ok"}})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "caching.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(testPaperText))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		PaperID string `json:"paper_id"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode analyze response: %v", err)
	}
	if resp.Summary != "The paper studies cache hit rates." {
		t.Errorf("summary = %q", resp.Summary)
	}

	doc, err := s.GetPaper(resp.PaperID)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if doc.Summary != resp.Summary {
		t.Errorf("persisted summary = %q", doc.Summary)
	}
}

func TestChatStreamsNDJSON(t *testing.T) {
	router, _ := newTestRouter(t)
	paperID := uploadPaper(t, router)

	body, _ := json.Marshal(ChatRequest{PaperID: paperID, Message: "what is this paper about?"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	var events []engine.Event
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var ev engine.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}

	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("got %d terminal events, want 1", terminals)
	}
	last := events[len(events)-1]
	if last.Type != "response" || last.Content != "streamed answer" {
		t.Errorf("terminal = %+v", last)
	}
}

func TestChatInputErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	// missing fields
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"paper_id": ""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields status = %d, want 400", w.Code)
	}

	// unknown paper
	body, _ := json.Marshal(ChatRequest{PaperID: "missing", Message: "hi"})
	req = httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown paper status = %d, want 404", w.Code)
	}
}

func TestPapersListAndMessages(t *testing.T) {
	router, _ := newTestRouter(t)
	paperID := uploadPaper(t, router)

	// run one turn so messages exist
	body, _ := json.Marshal(ChatRequest{PaperID: paperID, Message: "summarize the paper"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/papers", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), paperID) {
		t.Errorf("papers list: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/papers/"+paperID+"/messages", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("messages status = %d", w.Code)
	}
	var resp struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Role != "user" || resp.Messages[1].Role != "assistant" {
		t.Errorf("messages = %+v", resp.Messages)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/papers/missing/messages", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing paper messages status = %d, want 404", w.Code)
	}
}

func TestDeletePaper(t *testing.T) {
	router, s := newTestRouter(t)
	paperID := uploadPaper(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/papers/"+paperID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	if _, err := s.GetPaper(paperID); err == nil {
		t.Error("paper survived delete")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/papers/"+paperID, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"name": "Ada", "key_points": ["works on distributed systems"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("put profile status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get profile status = %d", w.Code)
	}
	var profile struct {
		Name      string   `json:"name"`
		KeyPoints []string `json:"key_points"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Name != "Ada" || len(profile.KeyPoints) != 1 {
		t.Errorf("profile = %+v", profile)
	}
}

func TestRegeneratePlan(t *testing.T) {
	router, _ := newTestRouter(t)
	paperID := uploadPaper(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/papers/"+paperID+"/plan", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("plan status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Plan struct {
			Items []struct {
				StageID string `json:"stage_id"`
			} `json:"items"`
		} `json:"plan"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(resp.Plan.Items) == 0 {
		t.Error("empty regenerated plan")
	}
	if resp.Plan.Items[0].StageID != "quick_scan" {
		t.Errorf("first plan item = %s", resp.Plan.Items[0].StageID)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}
