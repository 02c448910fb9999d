package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the document pipeline services.
type Config struct {
	ProjectID          string
	Mode               string // "dev" or "prod"
	HTTPAddr           string
	ProjectsCollection string

	// AI backend.
	AIProvider       string // "gemini" or "vertex"
	GeminiAPIKey     string
	GenerationModel  string
	EmbeddingModel   string
	VertexAIRegion   string
	RelaxHarmFilters bool

	// Object storage.
	ReportsLocatorPrefix string // e.g. gs://my-reports-bucket/reports
	SignedURLTTL         time.Duration
	LocalCacheDir        string
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOSecure          bool

	// Similarity search.
	MilvusAddress    string
	MilvusCollection string
	MilvusMetric     string
	MilvusNProbe     int

	// Rendering collaborator.
	RendererURL string

	// Activation hand-off.
	Dispatcher       string // "local" or "workflows"
	WorkflowID       string
	WorkflowLocation string

	// Caller identity.
	JWTSecret string

	// Active report guard.
	RedisAddr     string
	RedisPassword string
	ReportLockTTL time.Duration

	// Tuning.
	PollInterval        time.Duration
	PollMaxAttempts     int
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	FetchConcurrency    int
	ChatTopK            int
	ChatHistoryTurns    int
	ComplianceRulesPath string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ProjectID:          GetEnv("PROJECT_ID", ""),
		Mode:               GetEnv("APP_MODE", "prod"),
		HTTPAddr:           GetEnv("HTTP_ADDR", ":8080"),
		ProjectsCollection: GetEnv("FIRESTORE_COLLECTION", "projects"),

		AIProvider:       strings.ToLower(GetEnv("AI_PROVIDER", "gemini")),
		GeminiAPIKey:     GetEnv("GEMINI_API_KEY", ""),
		GenerationModel:  GetEnv("GENERATION_MODEL", "gemini-1.5-pro"),
		EmbeddingModel:   GetEnv("EMBEDDING_MODEL", "text-embedding-004"),
		VertexAIRegion:   GetEnv("VERTEX_AI_REGION", "us-central1"),
		RelaxHarmFilters: Bool("RELAX_HARM_FILTERS", true),

		ReportsLocatorPrefix: strings.TrimSuffix(GetEnv("REPORTS_LOCATOR_PREFIX", ""), "/"),
		SignedURLTTL:         Duration("SIGNED_URL_TTL", 7*24*time.Hour),
		LocalCacheDir:        GetEnv("LOCAL_CACHE_DIR", os.TempDir()+"/docflow-cache"),
		MinIOEndpoint:        GetEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:       GetEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:       GetEnv("MINIO_SECRET_KEY", ""),
		MinIOSecure:          Bool("MINIO_SECURE", true),

		MilvusAddress:    GetEnv("MILVUS_ADDRESS", ""),
		MilvusCollection: GetEnv("MILVUS_COLLECTION", "document_passages"),
		MilvusMetric:     GetEnv("MILVUS_METRIC", "COSINE"),
		MilvusNProbe:     Int("MILVUS_NPROBE", 10),

		RendererURL: GetEnv("RENDERER_URL", ""),

		Dispatcher:       strings.ToLower(GetEnv("ACTIVATION_DISPATCHER", "local")),
		WorkflowID:       GetEnv("WORKFLOW_ID", "document-activation-orchestrator"),
		WorkflowLocation: GetEnv("WORKFLOW_LOCATION", "us-central1"),

		JWTSecret: GetEnv("JWT_SECRET", ""),

		RedisAddr:     GetEnv("REDIS_ADDR", ""),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		ReportLockTTL: Duration("REPORT_LOCK_TTL", 15*time.Minute),

		PollInterval:        Duration("ACTIVATION_POLL_INTERVAL", 5*time.Second),
		PollMaxAttempts:     Int("ACTIVATION_POLL_MAX_ATTEMPTS", 24),
		RetryMaxAttempts:    Int("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:      Duration("RETRY_BASE_DELAY", time.Second),
		FetchConcurrency:    Int("REPORT_FETCH_CONCURRENCY", 4),
		ChatTopK:            Int("CHAT_TOP_K", 5),
		ChatHistoryTurns:    Int("CHAT_HISTORY_TURNS", 10),
		ComplianceRulesPath: GetEnv("COMPLIANCE_RULES_PATH", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and tuning bounds.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	switch c.AIProvider {
	case "gemini", "vertex":
	default:
		return fmt.Errorf("AI_PROVIDER must be gemini or vertex, got %q", c.AIProvider)
	}
	switch c.Dispatcher {
	case "local", "workflows":
	default:
		return fmt.Errorf("ACTIVATION_DISPATCHER must be local or workflows, got %q", c.Dispatcher)
	}
	if c.ReportsLocatorPrefix != "" && !strings.Contains(c.ReportsLocatorPrefix, "://") {
		return fmt.Errorf("REPORTS_LOCATOR_PREFIX must look like scheme://bucket/prefix")
	}
	if c.PollInterval <= 0 || c.PollMaxAttempts <= 0 {
		return fmt.Errorf("activation poll interval and attempts must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 1
	}
	return nil
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Int reads an integer variable, falling back on absence or parse failure.
func Int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

// Duration reads a time.ParseDuration value such as "5s".
func Duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func Bool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
