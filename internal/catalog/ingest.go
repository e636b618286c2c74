package catalog

import (
	"bufio"
	"context"
	"os"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
)

// Sink stores decoded products. *postgres.ProductRepository implements it.
type Sink interface {
	Upsert(ctx context.Context, products []product.Product) error
}

// IngestConfig tunes Ingest.
type IngestConfig struct {
	// BatchSize is the number of products per Upsert call.
	BatchSize int
	// Concurrency bounds the files read at once. Zero means one per file.
	Concurrency int
	// ExpectedProducts and FalsePositiveRate size the dedupe filter.
	ExpectedProducts  uint
	FalsePositiveRate float64
	// MaxLineSize is the longest accepted NDJSON line in bytes.
	MaxLineSize int
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.ExpectedProducts == 0 {
		c.ExpectedProducts = 1_000_000
	}
	if c.FalsePositiveRate <= 0 {
		c.FalsePositiveRate = 0.001
	}
	if c.MaxLineSize <= 0 {
		c.MaxLineSize = 1 << 20
	}
	return c
}

// IngestStats summarizes an ingest run.
type IngestStats struct {
	Lines      int64
	Stored     int64
	Duplicates int64
	Invalid    int64
}

// Ingest streams every gzip NDJSON file concurrently, drops malformed and
// duplicate records and upserts the rest into sink in batches. The first
// file or sink error cancels the run.
func Ingest(ctx context.Context, lg *zap.Logger, files []string, sink Sink, cfg IngestConfig) (IngestStats, error) {
	cfg = cfg.withDefaults()
	dedupe := NewDeduper(cfg.ExpectedProducts, cfg.FalsePositiveRate)

	var stats struct {
		lines, stored, duplicates, invalid atomic.Int64
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for _, path := range files {
		g.Go(func() error {
			batch := make([]product.Product, 0, cfg.BatchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := sink.Upsert(ctx, batch); err != nil {
					return errors.Wrapf(err, "upsert batch from %s", path)
				}
				stats.stored.Add(int64(len(batch)))
				batch = batch[:0]
				return nil
			}

			err := streamFile(ctx, path, cfg.MaxLineSize, func(line []byte) error {
				stats.lines.Add(1)
				p, err := DecodeProduct(jx.DecodeBytes(line))
				if err != nil {
					stats.invalid.Add(1)
					lg.Debug("Skipping record", zap.String("file", path), zap.Error(err))
					return nil
				}
				if dedupe.Seen(p.ID) {
					stats.duplicates.Add(1)
					return nil
				}
				batch = append(batch, p)
				if len(batch) >= cfg.BatchSize {
					return flush()
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
			lg.Info("File ingested", zap.String("file", path))
			return nil
		})
	}

	err := g.Wait()
	out := IngestStats{
		Lines:      stats.lines.Load(),
		Stored:     stats.stored.Load(),
		Duplicates: stats.duplicates.Load(),
		Invalid:    stats.invalid.Load(),
	}
	if fp := dedupe.FalsePositives(); fp > 0 {
		lg.Debug("Bloom false positives resolved", zap.Uint64("count", fp))
	}
	return out, err
}

// streamFile calls fn for every non-empty line of a gzip file.
func streamFile(ctx context.Context, path string, maxLine int, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
