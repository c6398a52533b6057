package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setServerEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"GEMINI_API_KEY":     "test-key",
		"ORDERS_DB_NAME":     "refunds",
		"ORDERS_DB_USER":     "svc",
		"ORDERS_DB_PASSWORD": "secret",
		"NEO4J_URI":          "neo4j+s://example.databases.neo4j.io",
		"NEO4J_USER":         "neo4j",
		"NEO4J_PASSWORD":     "graphpw",
		"CASE_BUCKET":        "refund-cases",
		"TASKS_PROJECT":      "proj",
		"TASKS_REGION":       "us-central1",
		"TASKS_QUEUE":        "refund-queue",
		"PROCESSOR_URL":      "https://worker.example.com/process",
		"TASKS_SA_EMAIL":     "tasks@proj.iam.gserviceaccount.com",
		"GMAIL_TOKEN_SECRET": "projects/proj/secrets/gmail-token/versions/latest",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadServerProfile(t *testing.T) {
	setServerEnv(t)

	cfg, err := Load(ProfileServer)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "refund-cases", cfg.Blob.Bucket)
	assert.Equal(t, int64(5), cfg.Gemini.MaxConcurrent)
	assert.Equal(t, "me", cfg.Mail.UserID)
	assert.Contains(t, cfg.OrdersDB.DSN(), "dbname=refunds")
	assert.Contains(t, cfg.OrdersDB.DSN(), "sslmode=require")
}

func TestLoadFailsFastOnMissing(t *testing.T) {
	setServerEnv(t)
	t.Setenv("NEO4J_PASSWORD", "")
	t.Setenv("CASE_BUCKET", "")

	_, err := Load(ProfileServer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NEO4J_PASSWORD")
	assert.Contains(t, err.Error(), "CASE_BUCKET")
}

func TestCompilerProfileIgnoresOrdersDB(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")
	t.Setenv("NEO4J_USER", "neo4j")
	t.Setenv("NEO4J_PASSWORD", "pw")

	cfg, err := Load(ProfileCompiler)
	require.NoError(t, err)
	assert.Equal(t, "artifacts", cfg.Compiler.ArtifactsDir)
}

func TestModelOverrides(t *testing.T) {
	g := GeminiConfig{DefaultModel: "gemini-2.5-flash", AdjudicatorModel: "gemini-2.5-pro"}

	assert.Equal(t, "gemini-2.5-pro", g.ModelFor("adjudicator"))
	assert.Equal(t, "gemini-2.5-flash", g.ModelFor("extraction"))
	assert.Equal(t, "gemini-2.5-flash", g.ModelFor("unknown"))
}
