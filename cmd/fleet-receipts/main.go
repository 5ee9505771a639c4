package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/fleet-receipts/internal/receipt"
	"github.com/zombor/fleet-receipts/internal/scanning"
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

	fs := ff.NewFlagSet("fleet-receipts")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storeType      = fs.StringLong("store", "bolt", "Record store: 'bolt' or 'sqlite'")
		dbPath         = fs.StringLong("db", "fleet-receipts.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./receipts", "Receipt image directory")
		scannerType    = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		categoriesFile = fs.StringLong("categories", "", "YAML file of extra category synonyms (optional)")
		dupPolicy      = fs.StringLong("duplicate-policy", "advisory", "Duplicate handling: 'advisory' or 'enforce'")
		dupTolerance   = fs.StringLong("duplicate-tolerance", "0", "Largest amount difference treated as the same amount")
		sessionTTL     = fs.DurationLong("session-ttl", 30*time.Minute, "Discard ingestion sessions idle for longer than this")
		reaperSchedule = fs.StringLong("reaper-schedule", "@every 5m", "Cron schedule for the session reaper")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FLEET_RECEIPTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	policy, err := receipt.ParseDuplicatePolicy(*dupPolicy)
	if err != nil {
		slog.Error("Invalid duplicate policy", "error", err)
		os.Exit(1)
	}
	tolerance, err := decimal.NewFromString(*dupTolerance)
	if err != nil || tolerance.IsNegative() {
		slog.Error("Invalid duplicate tolerance", "value", *dupTolerance)
		os.Exit(1)
	}

	normalizer := receipt.NewCategoryNormalizer()
	if *categoriesFile != "" {
		if err := normalizer.LoadSynonyms(*categoriesFile); err != nil {
			slog.Error("Failed to load category synonyms", "path", *categoriesFile, "error", err)
			os.Exit(1)
		}
	}

	// Initialize database
	slog.Info("Initializing database...", "store", *storeType, "path", *dbPath)
	var db receipt.Store
	switch *storeType {
	case "bolt":
		db, err = receipt.NewBoltDB(*dbPath)
	case "sqlite":
		db, err = receipt.NewSQLiteDB(*dbPath)
	default:
		err = fmt.Errorf("invalid store type %q (valid: bolt, sqlite)", *storeType)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		err = fmt.Errorf("invalid scanner type %q (valid: gemini, ollama)", *scannerType)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...")
	files, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	metrics := receipt.NewMetrics()
	service := receipt.NewService(db, scanner, files, receipt.Config{
		Policy:          policy,
		AmountTolerance: tolerance,
		Normalizer:      normalizer,
		Metrics:         metrics,
	})

	reaper, err := receipt.StartSessionReaper(service, *reaperSchedule, *sessionTTL)
	if err != nil {
		slog.Error("Failed to start session reaper", "error", err)
		os.Exit(1)
	}
	defer reaper.Stop()

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth, metrics)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "duplicate_policy", policy)
		if basicAuth.Username != "" || basicAuth.Password != "" {
			slog.Info("Basic auth enabled", "user", basicAuth.Username)
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
