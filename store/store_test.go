package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HaoliangCheng/paper-reading-agent/model"
)

// storeFactories lists the backends exercised by the shared conformance
// tests. MongoDB is excluded because it needs a running server.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "test.db")
			s, err := NewSQLiteStore(path)
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			return s
		},
	}
}

func newTestPaper(id string) *model.Paper {
	return &model.Paper{
		PaperID:  id,
		Title:    "Attention Is All You Need",
		FilePath: "/uploads/" + id + ".pdf",
		Language: "en",
		Summary:  "Introduces the Transformer architecture.",
		Profile: model.PaperProfile{
			HasMath:    true,
			HasFigures: true,
			Sections:   []string{"Introduction", "Model Architecture", "Results"},
		},
		CreatedAt: time.Now(),
	}
}

func TestStorePaperRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			paper := newTestPaper("paper-1")
			if err := s.PutPaper(paper); err != nil {
				t.Fatalf("PutPaper: %v", err)
			}

			got, err := s.GetPaper("paper-1")
			if err != nil {
				t.Fatalf("GetPaper: %v", err)
			}
			if got.Title != paper.Title {
				t.Errorf("title = %q, want %q", got.Title, paper.Title)
			}
			if !got.Profile.HasMath || len(got.Profile.Sections) != 3 {
				t.Errorf("profile not preserved: %+v", got.Profile)
			}

			if _, err := s.GetPaper("missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetPaper(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreListPapersNewestFirst(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			old := newTestPaper("paper-old")
			old.CreatedAt = time.Now().Add(-time.Hour)
			recent := newTestPaper("paper-new")
			recent.CreatedAt = time.Now()

			if err := s.PutPaper(old); err != nil {
				t.Fatalf("PutPaper: %v", err)
			}
			if err := s.PutPaper(recent); err != nil {
				t.Fatalf("PutPaper: %v", err)
			}

			papers, err := s.ListPapers()
			if err != nil {
				t.Fatalf("ListPapers: %v", err)
			}
			if len(papers) != 2 {
				t.Fatalf("got %d papers, want 2", len(papers))
			}
			if papers[0].PaperID != "paper-new" {
				t.Errorf("first paper = %s, want paper-new", papers[0].PaperID)
			}
		})
	}
}

func TestStoreSessionRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			session := model.NewSession("paper-1", "en")
			session.CurrentStage = model.StageMethodology
			session.ExtractedFigures = []model.Figure{{
				ArtifactID: "paper-1/figure-2",
				Ref:        "figure 2",
				Page:       4,
				Path:       "/uploads/paper-1/figure-2.png",
			}}

			if err := s.Save(session); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := s.Load(session.SessionID)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.CurrentStage != model.StageMethodology {
				t.Errorf("stage = %s, want %s", got.CurrentStage, model.StageMethodology)
			}
			if len(got.ExtractedFigures) != 1 || got.ExtractedFigures[0].Ref != "figure 2" {
				t.Errorf("figures not preserved: %+v", got.ExtractedFigures)
			}

			if _, err := s.Load("session-missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Load(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreAppendMessageOrdering(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			if err := s.PutPaper(newTestPaper("paper-1")); err != nil {
				t.Fatalf("PutPaper: %v", err)
			}
			session := model.NewSession("paper-1", "en")
			if err := s.Save(session); err != nil {
				t.Fatalf("Save: %v", err)
			}

			contents := []string{"what is attention?", "Attention weighs token relevance.", "and multi-head?"}
			roles := []string{"user", "assistant", "user"}
			for i, c := range contents {
				var msg *model.Message
				if roles[i] == "user" {
					msg = model.NewUserMessage("paper-1", c)
				} else {
					msg = model.NewAssistantMessage("paper-1", c)
				}
				if err := s.AppendMessage(session.SessionID, msg); err != nil {
					t.Fatalf("AppendMessage %d: %v", i, err)
				}
			}

			msgs, err := s.MessagesByPaper("paper-1")
			if err != nil {
				t.Fatalf("MessagesByPaper: %v", err)
			}
			if len(msgs) != 3 {
				t.Fatalf("got %d messages, want 3", len(msgs))
			}
			for i, msg := range msgs {
				if msg.Position != i {
					t.Errorf("message %d position = %d", i, msg.Position)
				}
				if msg.Content != contents[i] {
					t.Errorf("message %d content = %q, want %q", i, msg.Content, contents[i])
				}
			}

			// loaded session carries the same history
			got, err := s.Load(session.SessionID)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got.Messages) != 3 {
				t.Errorf("session has %d messages, want 3", len(got.Messages))
			}
		})
	}
}

func TestStoreDeletePaperCascades(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			if err := s.PutPaper(newTestPaper("paper-1")); err != nil {
				t.Fatalf("PutPaper: %v", err)
			}
			session := model.NewSession("paper-1", "en")
			if err := s.Save(session); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := s.AppendMessage(session.SessionID, model.NewUserMessage("paper-1", "hello")); err != nil {
				t.Fatalf("AppendMessage: %v", err)
			}

			if err := s.DeletePaper("paper-1"); err != nil {
				t.Fatalf("DeletePaper: %v", err)
			}

			if _, err := s.GetPaper("paper-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("paper survived delete: %v", err)
			}
			if _, err := s.Load(session.SessionID); !errors.Is(err, ErrNotFound) {
				t.Errorf("session survived delete: %v", err)
			}
			msgs, err := s.MessagesByPaper("paper-1")
			if err != nil {
				t.Fatalf("MessagesByPaper: %v", err)
			}
			if len(msgs) != 0 {
				t.Errorf("messages survived delete: %d", len(msgs))
			}
		})
	}
}

func TestStoreProfileRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()

			// empty store yields an empty profile, not an error
			profile, err := s.LoadProfile()
			if err != nil {
				t.Fatalf("LoadProfile: %v", err)
			}
			if profile.Name != "" || len(profile.KeyPoints) != 0 {
				t.Errorf("fresh profile not empty: %+v", profile)
			}

			profile.Name = "Ada"
			profile.AddKeyPoint("prefers intuition before formalism")
			if err := s.SaveProfile(profile); err != nil {
				t.Fatalf("SaveProfile: %v", err)
			}

			got, err := s.LoadProfile()
			if err != nil {
				t.Fatalf("LoadProfile: %v", err)
			}
			if got.Name != "Ada" {
				t.Errorf("name = %q, want Ada", got.Name)
			}
			if len(got.KeyPoints) != 1 || got.KeyPoints[0] != "prefers intuition before formalism" {
				t.Errorf("key points = %+v", got.KeyPoints)
			}
		})
	}
}
