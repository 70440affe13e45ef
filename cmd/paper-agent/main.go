package main

import (
	"flag"

	"github.com/HaoliangCheng/paper-reading-agent/config"
	"github.com/HaoliangCheng/paper-reading-agent/engine"
	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/paper"
	"github.com/HaoliangCheng/paper-reading-agent/server"
	"github.com/HaoliangCheng/paper-reading-agent/store"
)

func main() {
	uploadDir := flag.String("uploads", "", "Directory for uploaded papers and figure artifacts (default: ./uploads or PAPER_AGENT_UPLOAD_DIR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Log.Errorf("Failed to load configuration: %v", err)
		return
	}
	if *uploadDir != "" {
		cfg.UploadDir = *uploadDir
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Log.Errorf("Failed to open store: %v", err)
		return
	}
	defer st.Close()

	repo, err := paper.NewRepository(cfg.UploadDir, st, paper.NewPopplerExtractor())
	if err != nil {
		log.Log.Errorf("Failed to open paper repository: %v", err)
		return
	}

	classifier, err := engine.NewClassifier(engine.PolicyKeepCurrent)
	if err != nil {
		log.Log.Errorf("Failed to load stage definitions: %v", err)
		return
	}

	planner := engine.NewOpenAIPlanner(engine.LLMConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
	})

	eng := engine.NewEngine(st, repo, classifier, planner, engine.NewDuckDuckGoSearcher(), engine.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxRetries:    cfg.Agent.MaxRetries,
		RetryBackoff:  cfg.Agent.RetryBackoff,
		ToolTimeout:   cfg.Agent.ToolTimeout,
		Limits: engine.ContextLimits{
			MaxMessages:     cfg.Agent.HistoryMessages,
			MaxTotalBytes:   cfg.Agent.HistoryBytes,
			MaxMessageBytes: 2000,
		},
	})

	log.Log.Infof("Store backend: %s", cfg.Store.Backend)
	log.Log.Infof("Upload directory: %s", cfg.UploadDir)

	srv := server.NewServer(cfg, eng, st, repo)
	if err := srv.Start(); err != nil {
		log.Log.Errorf("HTTP server failed: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return store.NewMemoryStore(), nil
	case config.StoreBackendMongoDB:
		return store.NewMongoDBStore(store.MongoDBStoreConfig{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDB,
		})
	default:
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	}
}
