package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
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

	"github.com/zombor/invoice-scanner/internal/auth"
	"github.com/zombor/invoice-scanner/internal/preprocess"
	"github.com/zombor/invoice-scanner/internal/recognition"
	"github.com/zombor/invoice-scanner/internal/recognition/tesseract"
	"github.com/zombor/invoice-scanner/internal/scan"
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

	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env", "error", err)
	}

	fs := ff.NewFlagSet("invoice-scanner")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbDriver       = fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'postgres'")
		dbPath         = fs.StringLong("db", "invoice-scanner.db", "BoltDB file path")
		databaseURL    = fs.StringLong("database-url", "", "Postgres connection string (db-driver=postgres)")
		storagePath    = fs.StringLong("storage", "./uploads", "Storage directory path")
		recognizerType = fs.StringLong("recognizer", "tesseract", "Recognizer: 'tesseract', 'gemini' or 'ollama'")
		tessLang       = fs.StringLong("tesseract-lang", "por", "Tesseract language")
		tessdata       = fs.StringLong("tessdata", "", "Tesseract tessdata directory (optional)")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		adminEmail     = fs.StringLong("admin-email", "", "Email address of the administrator")
		jwtSecret      = fs.StringLong("jwt-secret", "", "Session signing secret (random per start when empty)")
		sessionTTL     = fs.DurationLong("session-ttl", 24*time.Hour, "Session lifetime")
		secureCookie   = fs.BoolLong("secure-cookie", "Mark the session cookie Secure (serve behind TLS)")
		maxWidth       = fs.IntLong("max-width", preprocess.DefaultMaxWidth, "Width enhanced images are downscaled to")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_SCANNER"),
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver)
	var db scan.DB
	var err error
	switch *dbDriver {
	case "bolt":
		db, err = scan.NewBoltDB(*dbPath)
	case "postgres":
		if *databaseURL == "" {
			slog.Error("--database-url is required for the postgres driver")
			os.Exit(1)
		}
		db, err = scan.NewPostgresDB(ctx, *databaseURL)
	default:
		slog.Error("Invalid database driver", "driver", *dbDriver, "valid", "bolt or postgres")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize recognizer based on type
	var recognizer recognition.Recognizer
	switch *recognizerType {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "language", *tessLang)
		recognizer = tesseract.New(*tessLang, *tessdata)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = recognition.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = recognition.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize recognizer", "type", *recognizerType, "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := scan.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	secret := *jwtSecret
	if secret == "" {
		secret = randomSecret()
		slog.Warn("No --jwt-secret set; sessions will not survive a restart")
	}
	if *adminEmail == "" {
		slog.Warn("No --admin-email set; the admin dashboard is unreachable")
	}
	authService, err := auth.NewService(db, auth.Config{
		Secret:     secret,
		TTL:        *sessionTTL,
		AdminEmail: *adminEmail,
	})
	if err != nil {
		slog.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}

	scanService := scan.NewService(db, recognizer, store)
	scanService.SetMaxWidth(*maxWidth)

	server := scan.NewServer(scanService, authService)
	server.SetSecureCookie(*secureCookie)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
