package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		batchSize   int
		concurrency int
		expected    uint
		verbose     bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip NDJSON product dumps")
	flag.StringVar(&pattern, "pattern", "*.ndjson.gz", "file name pattern inside --data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "products per upsert batch")
	flag.IntVar(&concurrency, "concurrency", runtime.GOMAXPROCS(0), "files read in parallel")
	flag.UintVar(&expected, "expected-products", 1_000_000, "expected distinct products, sizes the dedupe filter")
	flag.BoolVar(&verbose, "verbose", false, "log every skipped record")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := catalog.IngestConfig{
		BatchSize:        batchSize,
		Concurrency:      concurrency,
		ExpectedProducts: expected,
	}
	if err := run(ctx, dataDir, pattern, databaseURL, cfg, verbose); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, cfg catalog.IngestConfig, verbose bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list data files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files matching %q in %s", pattern, dataDir)
	}
	sort.Strings(files)

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg := zap.NewNop()
	if verbose {
		if lg, err = zap.NewDevelopment(); err != nil {
			return errors.Wrap(err, "create logger")
		}
		defer func() { _ = lg.Sync() }()
	}

	slog.Info("ingesting files", slog.Int("files", len(files)), slog.Int("batch_size", cfg.BatchSize))

	start := time.Now()
	stats, err := catalog.Ingest(ctx, lg, files, postgres.NewProductRepository(pool), cfg)

	slog.Info("ingest summary",
		slog.Int64("lines", stats.Lines),
		slog.Int64("stored", stats.Stored),
		slog.Int64("duplicates", stats.Duplicates),
		slog.Int64("invalid", stats.Invalid),
		slog.Duration("elapsed", time.Since(start)),
	)
	return err
}
