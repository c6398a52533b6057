// doc-tools is the document tool server: PDF text extraction and defect
// image analysis, spoken over MCP on stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gagan0116/mcp-customer-support/internal/config"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/doctools"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(config.ProfileDocTools)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	llm := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.MaxConcurrent)
	analyzer := doctools.NewDefectAnalyzer(llm, cfg.Gemini.DefaultModel)

	server := doctools.NewServer(analyzer, version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Error("doc-tools server stopped", "error", err.Error())
		os.Exit(1)
	}
}
