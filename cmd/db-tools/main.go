// db-tools is the orders-database tool server. The case worker launches
// it as a subprocess and calls its tools over MCP on stdio.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gagan0116/mcp-customer-support/internal/config"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/repository/postgres"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/dbtools"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(config.ProfileDBTools)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := sql.Open("postgres", cfg.OrdersDB.DSN())
	if err != nil {
		logger.Error("open orders database", "error", err.Error())
		os.Exit(1)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Error("orders database unreachable", "error", err.Error())
		os.Exit(1)
	}
	pingCancel()
	defer db.Close()

	llm := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.MaxConcurrent)
	tools := dbtools.NewTools(postgres.NewOrdersRepo(db), llm, cfg.Gemini.DefaultModel)

	server := dbtools.NewServer(tools, version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Error("db-tools server stopped", "error", err.Error())
		os.Exit(1)
	}
}
