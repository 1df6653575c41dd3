package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/plate-watch/internal/analysis"
	"github.com/zombor/plate-watch/internal/dedupe"
	"github.com/zombor/plate-watch/internal/vision"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	fs := ff.NewFlagSet("plate-watch")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "plate-watch.db", "History database file path")
		storagePath     = fs.StringLong("storage", "./crops", "Crop storage directory path")
		providerType    = fs.StringLong("provider", "openrouter", "Vision provider: 'openrouter' or 'gemini'")
		openRouterKey   = fs.StringLong("openrouter-key", "", "OpenRouter API key (or set OPENROUTER_API_KEY env var)")
		openRouterModel = fs.StringLong("openrouter-model", "google/gemini-2.5-flash", "OpenRouter model name")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		dedupRetention  = fs.DurationLong("dedup-retention", dedupe.DefaultRetention, "How long a plate counts as a duplicate")
		dedupSweep      = fs.DurationLong("dedup-sweep", dedupe.DefaultSweepInterval, "How often expired plates are swept")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PLATE_WATCH"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize history database
	slog.Info("Initializing history database...")
	db, err := analysis.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize vision provider based on type
	var provider vision.Provider
	switch *providerType {
	case "openrouter":
		apiKey := *openRouterKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		if apiKey == "" {
			slog.Error("OpenRouter API key is required. Set --openrouter-key flag or OPENROUTER_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing OpenRouter provider...", "model", *openRouterModel)
		provider, err = vision.NewOpenRouter(apiKey, *openRouterModel, nil)
		if err != nil {
			slog.Error("Failed to initialize OpenRouter", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini provider...", "model", *geminiModel)
		provider, err = vision.NewGemini(apiKey, *geminiModel, nil)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid provider type", "type", *providerType, "valid", "openrouter or gemini")
		os.Exit(1)
	}
	defer provider.Close()

	// Initialize crop storage
	slog.Info("Initializing crop storage...")
	store, err := analysis.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize dedup cache and its sweep loop
	cache := dedupe.NewCache(*dedupRetention, *dedupSweep)
	cache.Start()
	defer cache.Stop()

	// Initialize service
	analysisService := analysis.NewService(provider, cache, db, store)

	// Initialize server
	basicAuth := analysis.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := analysis.NewServer(analysisService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"provider", *providerType,
		"retention", (*dedupRetention).Round(time.Minute),
	)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
