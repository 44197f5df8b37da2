package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"

	"github.com/zombor/receipt-crop/internal/receipt"
	"github.com/zombor/receipt-crop/internal/scanning"
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

	defaults := receipt.DefaultOptions()

	fs := ff.NewFlagSet("receipt-crop")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "receipt-crop.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./receipts", "Storage directory path")
		scannerType   = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'tesseract'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		tesseractLang = fs.StringLong("tesseract-lang", "eng", "Tesseract languages, '+' separated (e.g., eng+jpn)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		jpegQuality   = fs.IntLong("jpeg-quality", defaults.Compositor.Quality, "JPEG quality of composited images")
		chunkRatio    = fs.Float64Long("chunk-ratio", defaults.Compositor.SplitRatio, "Height/width ratio above which images are scanned in two chunks")
		chunkSteep    = fs.Float64Long("chunk-ratio-steep", defaults.Compositor.SteepSplitRatio, "Height/width ratio above which images are scanned in three chunks")
		chunkOverlap  = fs.Float64Long("chunk-overlap", defaults.Compositor.Overlap, "Fraction of each chunk shared with its neighbour")
		threshold     = fs.IntLong("detect-threshold", int(defaults.Bounds.Threshold), "Channel value at or above which a pixel is background")
		padding       = fs.IntLong("detect-padding", defaults.Bounds.Padding, "Pixels added around detected content")
		maxDim        = fs.IntLong("detect-max-dim", defaults.Bounds.MaxDimension, "Longest side scanned by content detection (0 for full size)")
		scanTimeout   = fs.DurationLong("scan-timeout", defaults.Pipeline.Timeout, "Timeout for scanning one chunk")
		scanWorkers   = fs.IntLong("scan-concurrency", defaults.Pipeline.Concurrency, "Chunks scanned at once")
		_             = fs.StringLong("config", "", "YAML config file (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_CROP"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *threshold < 1 || *threshold > 255 {
		slog.Error("Invalid detect threshold", "value", *threshold, "valid", "1-255")
		os.Exit(1)
	}

	opts := defaults
	opts.Compositor.Quality = *jpegQuality
	opts.Compositor.SplitRatio = *chunkRatio
	opts.Compositor.SteepSplitRatio = *chunkSteep
	opts.Compositor.Overlap = *chunkOverlap
	opts.Compositor.Validate()
	opts.Bounds.Threshold = uint8(*threshold)
	opts.Bounds.Padding = *padding
	opts.Bounds.MaxDimension = *maxDim
	opts.Pipeline.Timeout = *scanTimeout
	opts.Pipeline.Concurrency = *scanWorkers

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize scanner based on type
	ctx := context.Background()
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "tesseract":
		slog.Info("Initializing Tesseract scanner...", "languages", *tesseractLang)
		scanner = scanning.NewTesseract(strings.Split(*tesseractLang, "+")...)
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or tesseract")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	receiptService := receipt.NewService(db, scanner, store, opts)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal or a server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errChan:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down cleanly", "error", err)
	}
}
