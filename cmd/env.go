package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/blob"
	"github.com/sells-group/docflow-cli/internal/engine"
	"github.com/sells-group/docflow-cli/internal/enrich"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/registry"
	"github.com/sells-group/docflow-cli/internal/store"
	anthropicpkg "github.com/sells-group/docflow-cli/pkg/anthropic"
)

// env holds the initialized store, blob driver, tenant registry, and
// engine shared by every command.
type env struct {
	Store   store.Store
	Blobs   blob.Store
	Tenants *registry.Registry
	Engine  *engine.Engine
}

// Close releases resources held by the command environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "docflow.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initBlobs(ctx context.Context) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "gcs":
		return blob.NewGCS(ctx, cfg.Blob.Bucket)
	case "local":
		root := cfg.Blob.Root
		if root == "" {
			root = "blobs"
		}
		return blob.NewLocal(root), nil
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", cfg.Blob.Driver)
	}
}

// initEnv sets up the store, blob driver, tenant registry, enrichment
// pipeline, and engine. Callers should defer env.Close().
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := initBlobs(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	tenants, err := registry.Load(cfg.Tenants.RegistryPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	enricher := enrich.New(anthropicClient, blobs, cfg.Anthropic, cfg.Pipeline)

	return &env{
		Store:   st,
		Blobs:   blobs,
		Tenants: tenants,
		Engine:  engine.New(st, blobs, enricher, tenants, cfg),
	}, nil
}

// printResult writes an operation result as indented JSON to stdout.
func printResult(result *model.OpResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
