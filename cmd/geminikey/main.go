package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"lumina/internal/infra"
	"lumina/internal/infra/credentials"
)

func main() {
	var (
		keyFlag     string
		migrateFlag bool
	)
	flag.StringVar(&keyFlag, "key", "", "Gemini API key to select (falls back to GEMINI_API_KEY)")
	flag.BoolVar(&migrateFlag, "migrate", true, "apply schema migrations before storing the key")
	flag.Parse()

	if err := infra.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "GEMINI API key is required via -key or environment")
		os.Exit(1)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.HasDatabase() {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "geminikey").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if migrateFlag {
		if err := infra.Migrate(ctx, cfg.DatabaseURL, logger); err != nil {
			fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.SetGeminiAPIKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist gemini api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("GEMINI API key stored successfully")
}
