package antigravitypool

import (
	"context"
	"fmt"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewStoreFromConfig builds the Store selected by cfg.StorageBackend. The
// returned cleanup closes backend connections and must be called on
// shutdown (it is non-nil even for the file backend).
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageFile, "":
		store := NewFileStore(cfg.AccountsFilePath())
		return store, func() { _ = store.Close() }, nil

	case config.StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("antigravitypool: postgres backend selected but postgres-dsn is empty")
		}
		pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("antigravitypool: connect postgres: %w", err)
		}
		store := NewPostgresStore(pgPool, "default")
		if err = store.EnsureSchema(ctx); err != nil {
			pgPool.Close()
			return nil, nil, err
		}
		return store, pgPool.Close, nil

	case config.StorageMinio:
		client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
			Secure: cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("antigravitypool: connect minio: %w", err)
		}
		object := cfg.Minio.Object
		if object == "" {
			object = "antigravity-accounts.json"
		}
		return NewMinioStore(client, cfg.Minio.Bucket, object), func() {}, nil
	}
	return nil, nil, fmt.Errorf("antigravitypool: unknown storage backend %q", cfg.StorageBackend)
}
