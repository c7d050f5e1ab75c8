package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/khalid-1/antigravity-mobile/internal/agent"
	"github.com/khalid-1/antigravity-mobile/internal/broadcast"
	"github.com/khalid-1/antigravity-mobile/internal/config"
	"github.com/khalid-1/antigravity-mobile/internal/devserver"
	"github.com/khalid-1/antigravity-mobile/internal/ledger"
	"github.com/khalid-1/antigravity-mobile/internal/llm"
	mockclient "github.com/khalid-1/antigravity-mobile/internal/llm/mockclient"
	"github.com/khalid-1/antigravity-mobile/internal/logging"
	"github.com/khalid-1/antigravity-mobile/internal/project"
	"github.com/khalid-1/antigravity-mobile/internal/server"
	"github.com/khalid-1/antigravity-mobile/internal/session"
	"github.com/khalid-1/antigravity-mobile/internal/state"
	"github.com/khalid-1/antigravity-mobile/internal/workspace"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config.yaml (default ~/.agd/config.yaml)")
		wsFlag      = flag.String("workspace", "", "Override workspace root directory")
		port        = flag.Int("port", 0, "Override listen port")
		mockFlag    = flag.Bool("mock", false, "Use the mock LLM client (development only)")
		versionFlag = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("agd version %s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *wsFlag != "" {
		cfg.WorkspaceRoot = *wsFlag
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logging.Setup(cfg.LogPath)
	logging.UserLog("agd %s starting", Version)

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}
	guard, err := workspace.NewGuard(cfg.WorkspaceRoot)
	if err != nil {
		log.Fatalf("Failed to resolve workspace root: %v", err)
	}

	store, err := state.NewStore(cfg.ConversationDBPath)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer store.Close()

	var client llm.Client
	keyConfigured := cfg.GeminiAPIKey != ""
	if *mockFlag {
		client = mockclient.New()
		keyConfigured = true
		logging.UserLog("using mock LLM client")
	} else {
		client = llm.NewGeminiClient(cfg.GeminiAPIKey, "", cfg.RequestTimeout(), logging.Logger)
		if !keyConfigured {
			logging.ErrorLog("no Gemini API key configured; chat requests will be rejected with guidance")
		}
	}

	led := ledger.New()
	hub := broadcast.NewHub()
	projects := project.NewStore(guard)
	sessions := session.NewRegistry(led, cfg.Model)
	runner := agent.NewRunner(client, cfg, sessions, led, store, hub, projects, keyConfigured)
	dev := devserver.NewManager(hub)
	defer dev.StopAll()

	srv := server.New(runner, hub, projects, store, dev, cfg, *configPath, logging.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := srv.Run(ctx, addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	logging.UserLog("agd shut down")
}
