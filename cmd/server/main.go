// Command server is the entry point for the conversational agent core,
// wiring every collaborator as an explicit dependency rather than through
// global lookups, per spec §9's design note. Grounded on the teacher's
// root main.go: Fiber app construction, graceful shutdown on
// SIGINT/SIGTERM, godotenv autoload for local development.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"convoengine/internal/config"
	"convoengine/internal/logging"
	"convoengine/internal/prompt"
	"convoengine/internal/provider"
	"convoengine/internal/server"
	"convoengine/internal/store"
	"convoengine/internal/telemetry"
	"convoengine/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.Default()
	ctx := context.Background()

	shutdownTracer := telemetry.InitTracer(telemetry.Config{Enabled: cfg.Tracing.Enabled})
	defer shutdownTracer(ctx)

	relational, err := store.Open(cfg.Database.DSN, store.Config{
		InputMaxLength:  cfg.Agent.InputMaxLength,
		OutputMaxLength: cfg.Agent.OutputMaxLength,
	})
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	registry := store.NewRegistry(relational.DB(), redisClient)

	s3Client, err := store.NewS3ClientFromEnv(ctx)
	if err != nil {
		log.Fatalf("object store: %v", err)
	}
	objectStore := store.NewObjectStore(s3Client, cfg.AWS.S3Bucket, cfg.AWS.S3URLPrefix)

	var knowledgeBase prompt.KnowledgeBase
	if cfg.Vectors.BaseURL != "" {
		knowledgeBase = store.NewVectorStore(cfg.Vectors.BaseURL)
	}

	assembler := prompt.NewAssembler(relational, objectStore, knowledgeBase)

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.NewCurrentDateTool())
	toolRegistry.Register(tools.NewCalculatorTool())
	toolRegistry.Register(tools.NewWebFetchTool())
	discoverConfiguredMCPServers(ctx, toolRegistry, logger)

	providers := provider.NewRegistry()

	app := server.New(server.Deps{
		Config:     cfg,
		Assembler:  assembler,
		Providers:  providers,
		Registry:   registry,
		Relational: relational,
		Tools:      toolRegistry,
		Logger:     logger,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	address := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("starting server", "address", address)
	if err := app.Listen(address); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// discoverConfiguredMCPServers resolves MCP server descriptors named by the
// MCP_SERVERS environment variable (a comma-separated list of server names,
// each described by MCP_<name>_TYPE, MCP_<name>_COMMAND and MCP_<name>_URL
// environment variables) once at startup and registers each server's tools. A single unreachable server is logged and skipped,
// matching spec §4.3's "a refresh pulling in newly-resolved remote tools"
// being best-effort.
func discoverConfiguredMCPServers(ctx context.Context, registry *tools.Registry, logger *logging.Logger) {
	names := os.Getenv("MCP_SERVERS")
	if names == "" {
		return
	}
	for _, name := range splitCSV(names) {
		server := tools.MCPServer{
			Type:    tools.MCPServerType(os.Getenv("MCP_" + name + "_TYPE")),
			Command: os.Getenv("MCP_" + name + "_COMMAND"),
			URL:     os.Getenv("MCP_" + name + "_URL"),
		}
		discovered, err := tools.DiscoverMCPTools(ctx, name, server)
		if err != nil {
			logger.Error("mcp discovery failed", "server", name, "err", err)
			continue
		}
		registry.RegisterAll(discovered)
		logger.Info("mcp tools registered", "server", name, "count", len(discovered))
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
