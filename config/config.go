package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig

	// LLM provider configuration
	LLM LLMConfig

	// Storage backend configuration
	Store StoreConfig

	// Agent loop configuration
	Agent AgentConfig

	// Directory where uploaded papers and extracted figures are kept
	UploadDir string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host string
	Port int
}

// LLMConfig holds LLM client configuration
type LLMConfig struct {
	APIKey  string
	BaseURL string
	// Model drives the planning loop
	Model string
	// VisionModel is used for figure explanations (defaults to Model)
	VisionModel string
}

// StoreBackend selects a session store implementation
type StoreBackend string

const (
	StoreBackendMemory  StoreBackend = "memory"
	StoreBackendSQLite  StoreBackend = "sqlite"
	StoreBackendMongoDB StoreBackend = "mongodb"
)

// StoreConfig holds storage backend settings
type StoreConfig struct {
	Backend    StoreBackend
	SQLitePath string
	MongoURI   string
	MongoDB    string
}

// AgentConfig holds orchestration settings for the agent loop
type AgentConfig struct {
	// MaxIterations caps plan/execute/observe cycles per turn
	MaxIterations int
	// MaxRetries bounds LLM retries on provider errors
	MaxRetries int
	// RetryBackoff is the initial backoff between LLM retries (doubles per attempt)
	RetryBackoff time.Duration
	// ToolTimeout bounds each tool execution
	ToolTimeout time.Duration
	// HistoryMessages is the trailing conversation window passed to the model
	HistoryMessages int
	// HistoryBytes is the overall byte budget for older history
	HistoryBytes int
	// DefaultLanguage is used when a session has no language preference
	DefaultLanguage string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Host: getEnvString("PAPER_AGENT_HTTP_HOST", "0.0.0.0"),
			Port: getEnvInt("PAPER_AGENT_HTTP_PORT", 5000),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("PAPER_AGENT_LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:     getEnvString("PAPER_AGENT_LLM_BASE_URL", ""),
			Model:       getEnvString("PAPER_AGENT_LLM_MODEL", "gpt-4o"),
			VisionModel: getEnvString("PAPER_AGENT_LLM_VISION_MODEL", ""),
		},
		Store: StoreConfig{
			Backend:    StoreBackend(getEnvString("PAPER_AGENT_STORE", "sqlite")),
			SQLitePath: getEnvString("PAPER_AGENT_SQLITE_PATH", "./data/paper_agent.db"),
			MongoURI:   getEnvString("PAPER_AGENT_MONGO_URI", "mongodb://localhost:27017"),
			MongoDB:    getEnvString("PAPER_AGENT_MONGO_DB", "paper_agent"),
		},
		Agent: AgentConfig{
			MaxIterations:   getEnvInt("PAPER_AGENT_MAX_ITERATIONS", 10),
			MaxRetries:      getEnvInt("PAPER_AGENT_LLM_RETRIES", 3),
			RetryBackoff:    time.Duration(getEnvInt("PAPER_AGENT_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
			ToolTimeout:     time.Duration(getEnvInt("PAPER_AGENT_TOOL_TIMEOUT_SECONDS", 60)) * time.Second,
			HistoryMessages: getEnvInt("PAPER_AGENT_HISTORY_MESSAGES", 20),
			HistoryBytes:    getEnvInt("PAPER_AGENT_HISTORY_BYTES", 64*1024),
			DefaultLanguage: getEnvString("PAPER_AGENT_LANGUAGE", "en"),
		},
		UploadDir: getEnvString("PAPER_AGENT_UPLOAD_DIR", "./uploads"),
	}

	switch cfg.Store.Backend {
	case StoreBackendMemory, StoreBackendSQLite, StoreBackendMongoDB:
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}

	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = 10
	}

	return cfg, nil
}

// GetAddress returns the HTTP server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Helper functions for environment variables
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
