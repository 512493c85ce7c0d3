// Command seed-db loads a starter catalog and an API key into PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-catalog/db"
	"github.com/xenking/kart-catalog/internal/domain/auth"
	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/storage/postgres"
)

type seedFile struct {
	Presentations []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"presentations"`
	Products []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		// Presentation is the 1-based position in Presentations, 0 for none.
		Presentation int64 `json:"presentation"`
	} `json:"products"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (default: embedded seed)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or CATALOG_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CATALOG_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CATALOG_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CATALOG_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	data := db.SeedCatalog
	if catalogFile != "" {
		var err error
		if data, err = os.ReadFile(catalogFile); err != nil {
			return errors.Wrap(err, "read catalog file")
		}
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, postgres.NewPresentationRepository(pool), postgres.NewProductRepository(pool), seed); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if apiKey == "" {
		slog.Warn("no API key given, skipping key seed")
		return nil
	}
	return seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper)
}

// seedCatalog upserts records with ids matching their position, so running
// the seed twice leaves the same catalog.
func seedCatalog(ctx context.Context, presentations *postgres.PresentationRepository, products *postgres.ProductRepository, seed seedFile) error {
	v := product.NewValidator()

	slog.Info("upserting presentations", slog.Int("count", len(seed.Presentations)))
	for i, pr := range seed.Presentations {
		if err := v.PresentationDraft(product.PresentationDraft{Name: pr.Name, Description: pr.Description}); err != nil {
			return errors.Wrapf(err, "presentation %d", i+1)
		}
		saved, err := presentations.Save(ctx, &product.Presentation{
			ID:          int64(i + 1),
			Name:        pr.Name,
			Description: pr.Description,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert presentation %q", pr.Name)
		}
		slog.Info("upserted presentation", slog.Int64("id", saved.ID), slog.String("name", saved.Name))
	}

	slog.Info("upserting products", slog.Int("count", len(seed.Products)))
	for i, p := range seed.Products {
		var presentationID *int64
		if p.Presentation > 0 {
			if p.Presentation > int64(len(seed.Presentations)) {
				return errors.Errorf("product %q references unknown presentation %d", p.Name, p.Presentation)
			}
			presentationID = &p.Presentation
		}
		if err := v.Draft(product.Draft{
			Name:           p.Name,
			Description:    p.Description,
			Price:          &p.Price,
			PresentationID: presentationID,
		}); err != nil {
			return errors.Wrapf(err, "product %d", i+1)
		}
		saved, err := products.Save(ctx, &product.Product{
			ID:             int64(i + 1),
			Name:           p.Name,
			Description:    p.Description,
			Price:          p.Price,
			PresentationID: presentationID,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert product %q", p.Name)
		}
		slog.Info("upserted product", slog.Int64("id", saved.ID), slog.String("name", saved.Name))
	}
	return nil
}

func seedAPIKey(ctx context.Context, keys *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.Hash(apiKey, []byte(pepper)),
		Name:    "Default catalog writer",
		Scopes:  []string{auth.ScopeCatalogWrite},
	}
	if err := keys.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}
