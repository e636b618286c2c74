package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type seedKey struct {
	id   string
	name string
	key  string
	role auth.Role
}

func main() {
	var (
		databaseURL    string
		productsFile   string
		adminKey       string
		customerKey    string
		apiKeyPepper   string
		skipMigrations bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&adminKey, "api-key", "", "admin API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&customerKey, "customer-api-key", "", "optional customer API key (or STOREFRONT_SEED_CUSTOMER_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.BoolVar(&skipMigrations, "skip-migrations", false, "do not apply the schema before seeding")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if adminKey == "" {
		slog.Error("admin API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
		os.Exit(1)
	}
	if customerKey == "" {
		customerKey = os.Getenv("STOREFRONT_SEED_CUSTOMER_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}

	keys := []seedKey{{id: "admin", name: "Seeded admin key", key: adminKey, role: auth.RoleAdmin}}
	if customerKey != "" {
		keys = append(keys, seedKey{id: "customer", name: "Seeded customer key", key: customerKey, role: auth.RoleCustomer})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, []byte(apiKeyPepper), keys, !skipMigrations); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string, pepper []byte, keys []seedKey, migrate bool) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if migrate {
		slog.Info("running migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	apikeys := postgres.NewAPIKeyRepository(pool)
	for _, k := range keys {
		if err := seedAPIKey(ctx, apikeys, k, pepper); err != nil {
			return errors.Wrapf(err, "seed %s api key", k.role)
		}
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	products, err := catalog.DecodeArray(data)
	if err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	if err := repo.Upsert(ctx, products); err != nil {
		return err
	}

	for _, p := range products {
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, k seedKey, pepper []byte) error {
	if err := repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      k.id,
		KeyHash: handler.HashAPIKey(k.key, pepper),
		Name:    k.name,
		Role:    k.role,
	}); err != nil {
		return err
	}

	slog.Info("upserted API key", slog.String("id", k.id), slog.String("role", string(k.role)))

	return nil
}
