// The policy compiler is a batch job: it parses the retailer's policy
// PDFs, designs an ontology, extracts and links policy triplets, has a
// critic review the result, and rebuilds the Neo4j policy graph. Run it
// whenever the policy documents change; the server reads only its output.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagan0116/mcp-customer-support/internal/config"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/graph"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/policy"
)

func main() {
	cfg, err := config.Load(config.ProfileCompiler)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	if cfg.Compiler.LlamaCloudAPIKey == "" {
		fmt.Fprintln(os.Stderr, "configuration: missing LLAMA_CLOUD_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	llm := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.MaxConcurrent)
	parser := policy.NewParseClient(cfg.Compiler.LlamaCloudAPIKey)
	ingestor := policy.NewIngestor(parser)

	store, err := graph.NewStore(cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		logger.Error("create graph store", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close(context.Background())

	pipeline := policy.NewPipeline(ingestor, llm, policy.NewBuilder(store),
		cfg.Compiler.ArtifactsDir,
		cfg.Gemini.ModelFor("ontology"),
		cfg.Gemini.ModelFor("extraction"),
		cfg.Gemini.ModelFor("critic"))

	result, err := pipeline.Run(ctx, cfg.Compiler.PolicyDir)
	if err != nil {
		logger.Error("policy compilation failed", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("policy compilation finished",
		"status", result.Status,
		"revisions", result.Revisions,
		"artifacts_dir", cfg.Compiler.ArtifactsDir)
	if result.Status == "failed" {
		os.Exit(1)
	}
}
