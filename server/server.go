package server

import (
	"errors"
	"net/http"

	"github.com/HaoliangCheng/paper-reading-agent/config"
	"github.com/HaoliangCheng/paper-reading-agent/engine"
	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
	"github.com/HaoliangCheng/paper-reading-agent/paper"
	"github.com/HaoliangCheng/paper-reading-agent/store"
	"github.com/gin-gonic/gin"
)

// Server is the HTTP surface over the engine, stores, and paper repository
type Server struct {
	config *config.Config
	engine *engine.Engine
	store  store.Store
	papers *paper.Repository
}

// NewServer wires the HTTP server
func NewServer(cfg *config.Config, eng *engine.Engine, st store.Store, papers *paper.Repository) *Server {
	return &Server{config: cfg, engine: eng, store: st, papers: papers}
}

// RegisterRoutes registers all routes on the given gin engine
func (s *Server) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.POST("/chat", s.handleChat)
	api.GET("/papers", s.handleListPapers)
	api.GET("/papers/:id/messages", s.handlePaperMessages)
	api.DELETE("/papers/:id", s.handleDeletePaper)
	api.POST("/papers/:id/plan", s.handleRegeneratePlan)
	api.GET("/profile", s.handleGetProfile)
	api.PUT("/profile", s.handlePutProfile)

	router.Static("/uploads", s.config.UploadDir)
	router.GET("/health", s.handleHealth)
}

// Start runs the server until the listener fails
func (s *Server) Start() error {
	router := gin.Default()
	s.RegisterRoutes(router)

	address := s.config.GetAddress()
	log.Log.Infof("Starting HTTP server on %s", address)
	return router.Run(address)
}

// handleAnalyze ingests a paper from an uploaded file or a URL and opens
// its session with a fresh reading plan
func (s *Server) handleAnalyze(c *gin.Context) {
	language := c.PostForm("language")
	if language == "" {
		language = s.config.Agent.DefaultLanguage
	}

	var (
		doc *model.Paper
		err error
	)
	if file, fileErr := c.FormFile("file"); fileErr == nil {
		src, openErr := file.Open()
		if openErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
			return
		}
		defer src.Close()
		doc, err = s.papers.Intake(c.Request.Context(), file.Filename, language, src)
	} else if rawURL := c.PostForm("url"); rawURL != "" {
		doc, err = s.papers.IntakeURL(c.Request.Context(), rawURL, language)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide a file upload or a url field"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.engine.StartSession(c.Request.Context(), doc.PaperID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// the summary lands on the stored record during StartSession
	if fresh, err := s.store.GetPaper(doc.PaperID); err == nil {
		doc = fresh
	}

	c.JSON(http.StatusOK, gin.H{
		"paper_id":   doc.PaperID,
		"title":      doc.Title,
		"summary":    doc.Summary,
		"profile":    doc.Profile,
		"session_id": session.SessionID,
		"plan":       session.Plan,
	})
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	PaperID string `json:"paper_id"`
	Message string `json:"message"`
}

// handleChat runs one turn, streaming NDJSON events. Input errors respond
// before any streaming begins; loop errors arrive as the terminal event.
func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.PaperID == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paper_id and message are required"})
		return
	}
	if _, err := s.store.GetPaper(req.PaperID); err != nil {
		s.respondStoreError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	reporter := engine.NewNDJSONReporter(c.Writer)
	err := s.engine.ProcessTurn(c.Request.Context(), req.PaperID, req.Message, reporter)
	if err == nil || reporter.Finished() {
		return
	}

	// nothing streamed yet, a plain status response is still possible
	switch {
	case errors.Is(err, engine.ErrTurnInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Log.Errorf("Turn failed for paper %s: %v", req.PaperID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleListPapers(c *gin.Context) {
	papers, err := s.store.ListPapers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"papers": papers})
}

func (s *Server) handlePaperMessages(c *gin.Context) {
	paperID := c.Param("id")
	if _, err := s.store.GetPaper(paperID); err != nil {
		s.respondStoreError(c, err)
		return
	}

	msgs, err := s.store.MessagesByPaper(paperID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleDeletePaper(c *gin.Context) {
	paperID := c.Param("id")
	if _, err := s.store.GetPaper(paperID); err != nil {
		s.respondStoreError(c, err)
		return
	}

	if err := s.papers.RemovePaperFiles(paperID); err != nil {
		log.Log.Warnf("Failed to remove files for paper %s: %v", paperID, err)
	}
	if err := s.store.DeletePaper(paperID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": paperID})
}

func (s *Server) handleRegeneratePlan(c *gin.Context) {
	paperID := c.Param("id")
	plan, err := s.engine.RegeneratePlan(c.Request.Context(), paperID)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	profile, err := s.store.LoadProfile()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// PutProfileRequest is the body of PUT /api/profile
type PutProfileRequest struct {
	Name      string   `json:"name"`
	KeyPoints []string `json:"key_points"`
}

func (s *Server) handlePutProfile(c *gin.Context) {
	var req PutProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	profile := &model.UserProfile{Name: req.Name, KeyPoints: req.KeyPoints}
	if err := s.store.SaveProfile(profile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
