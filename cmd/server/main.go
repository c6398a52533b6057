package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/gagan0116/mcp-customer-support/internal/adjudicator"
	"github.com/gagan0116/mcp-customer-support/internal/api"
	"github.com/gagan0116/mcp-customer-support/internal/blobstore"
	"github.com/gagan0116/mcp-customer-support/internal/caseworker"
	"github.com/gagan0116/mcp-customer-support/internal/config"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/graph"
	"github.com/gagan0116/mcp-customer-support/internal/mailingress"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/distlock"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/policy"
	"github.com/gagan0116/mcp-customer-support/internal/repository/postgres"
	"github.com/gagan0116/mcp-customer-support/internal/secrets"
	"github.com/gagan0116/mcp-customer-support/internal/tasks"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/host"
	"github.com/gagan0116/mcp-customer-support/internal/verify"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(port string) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("port %s is already in use: %v", port, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.Load(config.ProfileServer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	if err := checkPortAvailable(cfg.Server.Port); err != nil {
		logger.Error("pre-flight check failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Orders database.
	ordersDB, err := sql.Open("postgres", cfg.OrdersDB.DSN())
	if err != nil {
		logger.Error("open orders database", "error", err.Error())
		os.Exit(1)
	}
	ordersDB.SetMaxOpenConns(10)
	ordersDB.SetMaxIdleConns(3)
	ordersDB.SetConnMaxLifetime(5 * time.Minute)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := ordersDB.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Error("orders database unreachable", "error", err.Error())
		os.Exit(1)
	}
	pingCancel()
	cursorRepo := postgres.NewCursorRepo(ordersDB)
	caseRepo := postgres.NewRefundCaseRepo(ordersDB)

	// LLM client, shared by the classifier, extractor, verifier, and adjudicator.
	llm := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.MaxConcurrent)

	// Case envelope bucket.
	blobs, err := blobstore.NewStore(ctx)
	if err != nil {
		logger.Error("create blob store", "error", err.Error())
		os.Exit(1)
	}

	// Task queue dispatch.
	dispatcher, err := tasks.NewDispatcher(ctx, cfg.Tasks.Project, cfg.Tasks.Region,
		cfg.Tasks.Queue, cfg.Tasks.ProcessorURL, cfg.Tasks.ServiceAccount)
	if err != nil {
		logger.Error("create task dispatcher", "error", err.Error())
		os.Exit(1)
	}

	// Gmail, authenticated via the refresh token held in Secret Manager.
	gmailSvc, err := secrets.GmailService(ctx, cfg.Mail.TokenSecretName)
	if err != nil {
		logger.Error("create gmail service", "error", err.Error())
		os.Exit(1)
	}
	provider := mailingress.NewGmailProvider(gmailSvc, cfg.Mail.UserID)

	// Notification lock: Redis when configured, else a Postgres advisory lock.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to advisory lock", "error", err.Error())
			redisClient.Close()
			redisClient = nil
		}
		pingCancel()
	}
	ingressLock := distlock.NewLock(redisClient, ordersDB, "gmail-ingress", 2*time.Minute)

	classifier := mailingress.NewClassifier(llm, cfg.Gemini.DefaultModel)
	ingress := mailingress.NewIngress(provider, classifier, cursorRepo, blobs, dispatcher, cfg.Blob.Bucket, ingressLock)

	// Policy graph and its source text, produced by the policy compiler.
	graphStore, err := graph.NewStore(cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		logger.Error("create graph store", "error", err.Error())
		os.Exit(1)
	}
	sources, err := policy.LoadSourceIndex(cfg.Compiler.ArtifactsDir)
	if err != nil {
		logger.Error("load policy source index", "dir", cfg.Compiler.ArtifactsDir, "error", err.Error())
		os.Exit(1)
	}

	// Tool servers run as subprocesses of this binary and speak MCP on stdio.
	binDir := "."
	if self, err := os.Executable(); err == nil {
		binDir = filepath.Dir(self)
	}
	tools := host.New(
		host.ServerSpec{Name: "db-tools", Command: filepath.Join(binDir, "db-tools")},
		host.ServerSpec{Name: "doc-tools", Command: filepath.Join(binDir, "doc-tools")},
	)
	if err := tools.Start(ctx); err != nil {
		logger.Error("start tool servers", "error", err.Error())
		os.Exit(1)
	}
	defer tools.Close()

	verifier := verify.NewLoop(llm, tools, cfg.Gemini.DefaultModel)
	adj := adjudicator.New(llm, graphStore, sources,
		cfg.Gemini.ModelFor("adjudicator"), getEnv("RETAILER_NAME", "Best Buy"))
	worker := caseworker.New(blobs, caseRepo, tools, llm, verifier, adj,
		cfg.Blob.Bucket, cfg.Gemini.ModelFor("extraction"))

	handlers := api.NewHandlers(ingress, worker, map[string]api.Readiness{
		"orders_db": func(ctx context.Context) error { return ordersDB.PingContext(ctx) },
		"graph":     func(ctx context.Context) error { return graphStore.VerifyConnectivity(ctx) },
	})
	server := api.NewServer(handlers)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("server starting", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err.Error())
	}
	graphStore.Close(context.Background())
	ordersDB.Close()
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
