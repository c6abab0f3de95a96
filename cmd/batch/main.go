package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumina/internal/domain"
	"lumina/internal/export"
	"lumina/internal/infra"
	"lumina/internal/infra/credentials"
	"lumina/internal/providers/genai"
	imageprovider "lumina/internal/providers/image"
	"lumina/internal/queue"
	"lumina/internal/registry"
	"lumina/internal/storage"
)

type batchFlags struct {
	dir         string
	out         string
	quality     string
	mode        string
	resolution  string
	instruction string
}

func main() {
	var f batchFlags
	flag.StringVar(&f.dir, "dir", "", "directory of photos to enhance")
	flag.StringVar(&f.out, "out", ".", "directory the ZIP archive is written to")
	flag.StringVar(&f.quality, "quality", string(domain.QualityMedium), "LOW, MEDIUM or HIGH")
	flag.StringVar(&f.mode, "mode", string(domain.ModeExpression), "EXPRESSION, GEOMETRY, TEXTURE or COLOR_ONLY")
	flag.StringVar(&f.resolution, "resolution", string(domain.ResolutionFHD), "FHD, 2K, 4K or 8K")
	flag.StringVar(&f.instruction, "instruction", "", "optional free-text request")
	flag.Parse()

	if f.dir == "" {
		fmt.Fprintln(os.Stderr, "-dir is required")
		os.Exit(2)
	}
	opts, err := parseOptions(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := infra.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "batch").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, f, opts); err != nil {
		logger.Error().Err(err).Msg("batch: failed")
		os.Exit(1)
	}
}

func parseOptions(f batchFlags) (domain.Options, error) {
	q, err := domain.ParseQuality(f.quality)
	if err != nil {
		return domain.Options{}, err
	}
	m, err := domain.ParseMode(f.mode)
	if err != nil {
		return domain.Options{}, err
	}
	res, err := domain.ParseResolution(f.resolution)
	if err != nil {
		return domain.Options{}, err
	}
	return domain.Options{Quality: q, Mode: m, Resolution: res, Instruction: f.instruction}, nil
}

func run(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, f batchFlags, opts domain.Options) error {
	store := storage.NewMemoryStore()
	reg := registry.New(store, logger)

	uploads, err := loadDir(ctx, store, f.dir, logger)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		return fmt.Errorf("no images found in %s", f.dir)
	}
	reg.Add(uploads)

	gate := credentials.NewGate(cfg.GeminiAPIKey, nil, nil, logger)
	tiers := imageprovider.DefaultTierMap()
	if cfg.TierConfigPath != "" {
		if tiers, err = imageprovider.LoadTierMap(cfg.TierConfigPath); err != nil {
			return err
		}
	}
	client, err := genai.NewClient(genai.Options{
		KeySource: gate.APIKey,
		BaseURL:   cfg.GeminiBaseURL,
		Model:     cfg.GeminiBaseModel,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}
	selection, err := imageprovider.NewEnhancer(cfg.EnhancerProvider, client, tiers, cfg.GeminiBaseModel, cfg.GeminiEnhancedModel, 0)
	if err != nil {
		return err
	}

	processor := queue.NewProcessor(reg, store, selection.Enhancer, queue.NewOptionSet(opts), queue.Config{
		SettleDelay:        cfg.QueueSettleDelay,
		CallTimeout:        cfg.EnhanceTimeout,
		RequiresCredential: selection.RequiresCredential,
	}, queue.WithGate(gate), queue.WithLogger(logger))

	if _, err := processor.Arm(ctx, queue.ScopeIdle); err != nil {
		if errors.Is(err, domain.ErrCredentialNeeded) {
			return fmt.Errorf("resolution %s needs GEMINI_API_KEY: %w", opts.Resolution, err)
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = processor.Run(runCtx) }()
	if err := processor.WaitIdle(ctx); err != nil {
		return err
	}
	cancel()

	for _, rec := range reg.List() {
		if rec.Status == domain.StatusFailed {
			logger.Warn().Str("image", rec.Name).Str("error", rec.Error).Msg("batch: image failed")
		}
	}

	archive, err := export.NewExporter(store, cfg.ArchivePrefix, logger).ExportAll(ctx, reg.Completed())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	target := filepath.Join(f.out, archive.Filename)
	if err := os.WriteFile(target, archive.Data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	logger.Info().
		Str("archive", target).
		Int("entries", len(archive.Entries)).
		Int("failed", reg.CountStatus(domain.StatusFailed)).
		Msg("batch: done")
	return nil
}

// loadDir stores every image file in dir, sorted by name, and skips the rest.
func loadDir(ctx context.Context, store storage.BlobStore, dir string, logger zerolog.Logger) ([]domain.Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var uploads []domain.Upload
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		mime := mimetype.Detect(data).String()
		if storage.ExtensionForMIME(mime) == "" {
			logger.Debug().Str("file", e.Name()).Str("mime", mime).Msg("batch: skipping non-image")
			continue
		}
		key, err := store.Put(ctx, storage.OriginalKey(uuid.NewString(), e.Name()), data)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, domain.Upload{Name: e.Name(), MIME: mime, OriginalKey: key})
	}
	return uploads, nil
}
