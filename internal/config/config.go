// Package config loads service configuration from the environment.
// Required settings fail fast at startup; a service with a half-working
// configuration must never consume tasks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the refund-adjudication services.
type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	OrdersDB OrdersDBConfig
	Graph    GraphConfig
	Blob     BlobConfig
	Tasks    TasksConfig
	Mail     MailConfig
	Redis    RedisConfig
	Compiler CompilerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     string
	LogLevel string
}

// GeminiConfig holds LLM provider settings and per-agent model overrides.
type GeminiConfig struct {
	APIKey           string
	DefaultModel     string
	AdjudicatorModel string
	OntologyModel    string
	ExtractionModel  string
	CriticModel      string
	MaxConcurrent    int64
}

// OrdersDBConfig holds the Postgres connection settings for the orders store.
type OrdersDBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c OrdersDBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// GraphConfig holds Neo4j connection settings.
type GraphConfig struct {
	URI      string
	User     string
	Password string
}

// BlobConfig holds the case-envelope bucket.
type BlobConfig struct {
	Bucket string
}

// TasksConfig holds Cloud Tasks dispatch settings.
type TasksConfig struct {
	Project        string
	Region         string
	Queue          string
	ProcessorURL   string
	ServiceAccount string
}

// MailConfig holds Gmail access settings.
type MailConfig struct {
	TokenSecretName string
	UserID          string
}

// RedisConfig holds the optional Redis address for the ingress lock.
// When Addr is empty the lock is disabled and the handler relies on the
// cursor store's conditional update alone.
type RedisConfig struct {
	Addr     string
	Password string
}

// CompilerConfig holds policy-compiler settings.
type CompilerConfig struct {
	LlamaCloudAPIKey string
	PolicyDir        string
	ArtifactsDir     string
}

// ServerTimeouts returns the HTTP server read/write timeouts. Case
// processing holds a request open for several LLM round trips, so the
// write timeout is generous.
func (c ServerConfig) ServerTimeouts() (read, write time.Duration) {
	return 30 * time.Second, 15 * time.Minute
}

// Load reads configuration from the environment. A .env file is loaded
// best-effort for local development. The required set depends on which
// binary is starting; callers pass the profile they need.
func Load(profile Profile) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			LogLevel: getEnv("LOG_LEVEL", "INFO"),
		},
		Gemini: GeminiConfig{
			APIKey:           os.Getenv("GEMINI_API_KEY"),
			DefaultModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			AdjudicatorModel: os.Getenv("ADJUDICATOR_MODEL"),
			OntologyModel:    os.Getenv("ONTOLOGY_MODEL"),
			ExtractionModel:  os.Getenv("EXTRACTION_MODEL"),
			CriticModel:      os.Getenv("CRITIC_MODEL"),
			MaxConcurrent:    getEnvInt64("GEMINI_MAX_CONCURRENT", 5),
		},
		OrdersDB: OrdersDBConfig{
			Host:     getEnv("ORDERS_DB_HOST", "localhost"),
			Port:     getEnv("ORDERS_DB_PORT", "5432"),
			Name:     os.Getenv("ORDERS_DB_NAME"),
			User:     os.Getenv("ORDERS_DB_USER"),
			Password: os.Getenv("ORDERS_DB_PASSWORD"),
			SSLMode:  getEnv("ORDERS_DB_SSLMODE", "require"),
		},
		Graph: GraphConfig{
			URI:      os.Getenv("NEO4J_URI"),
			User:     os.Getenv("NEO4J_USER"),
			Password: os.Getenv("NEO4J_PASSWORD"),
		},
		Blob: BlobConfig{
			Bucket: os.Getenv("CASE_BUCKET"),
		},
		Tasks: TasksConfig{
			Project:        os.Getenv("TASKS_PROJECT"),
			Region:         os.Getenv("TASKS_REGION"),
			Queue:          os.Getenv("TASKS_QUEUE"),
			ProcessorURL:   os.Getenv("PROCESSOR_URL"),
			ServiceAccount: os.Getenv("TASKS_SA_EMAIL"),
		},
		Mail: MailConfig{
			TokenSecretName: os.Getenv("GMAIL_TOKEN_SECRET"),
			UserID:          getEnv("GMAIL_USER_ID", "me"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Compiler: CompilerConfig{
			LlamaCloudAPIKey: os.Getenv("LLAMA_CLOUD_API_KEY"),
			PolicyDir:        getEnv("POLICY_DIR", "policy_docs"),
			ArtifactsDir:     getEnv("ARTIFACTS_DIR", "artifacts"),
		},
	}

	if missing := cfg.missing(profile); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// Profile names the subset of configuration a binary requires.
type Profile int

const (
	// ProfileServer is the ingress + case-worker HTTP service.
	ProfileServer Profile = iota
	// ProfileCompiler is the offline policy compiler.
	ProfileCompiler
	// ProfileDBTools is the orders-DB tool server.
	ProfileDBTools
	// ProfileDocTools is the document tool server (no external stores).
	ProfileDocTools
)

func (c *Config) missing(profile Profile) []string {
	var missing []string
	need := func(name, val string) {
		if val == "" {
			missing = append(missing, name)
		}
	}

	switch profile {
	case ProfileServer:
		need("GEMINI_API_KEY", c.Gemini.APIKey)
		need("ORDERS_DB_NAME", c.OrdersDB.Name)
		need("ORDERS_DB_USER", c.OrdersDB.User)
		need("ORDERS_DB_PASSWORD", c.OrdersDB.Password)
		need("NEO4J_URI", c.Graph.URI)
		need("NEO4J_USER", c.Graph.User)
		need("NEO4J_PASSWORD", c.Graph.Password)
		need("CASE_BUCKET", c.Blob.Bucket)
		need("TASKS_PROJECT", c.Tasks.Project)
		need("TASKS_REGION", c.Tasks.Region)
		need("TASKS_QUEUE", c.Tasks.Queue)
		need("PROCESSOR_URL", c.Tasks.ProcessorURL)
		need("TASKS_SA_EMAIL", c.Tasks.ServiceAccount)
		need("GMAIL_TOKEN_SECRET", c.Mail.TokenSecretName)
	case ProfileCompiler:
		need("GEMINI_API_KEY", c.Gemini.APIKey)
		need("NEO4J_URI", c.Graph.URI)
		need("NEO4J_USER", c.Graph.User)
		need("NEO4J_PASSWORD", c.Graph.Password)
	case ProfileDBTools:
		need("GEMINI_API_KEY", c.Gemini.APIKey)
		need("ORDERS_DB_NAME", c.OrdersDB.Name)
		need("ORDERS_DB_USER", c.OrdersDB.User)
		need("ORDERS_DB_PASSWORD", c.OrdersDB.Password)
	case ProfileDocTools:
		need("GEMINI_API_KEY", c.Gemini.APIKey)
	}
	return missing
}

// ModelFor returns the model override for a named agent, or the default.
func (c GeminiConfig) ModelFor(agent string) string {
	switch agent {
	case "adjudicator":
		if c.AdjudicatorModel != "" {
			return c.AdjudicatorModel
		}
	case "ontology":
		if c.OntologyModel != "" {
			return c.OntologyModel
		}
	case "extraction":
		if c.ExtractionModel != "" {
			return c.ExtractionModel
		}
	case "critic":
		if c.CriticModel != "" {
			return c.CriticModel
		}
	}
	return c.DefaultModel
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
