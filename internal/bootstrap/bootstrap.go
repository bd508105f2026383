package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/config"
	infraredis "github.com/quillsign/quillsign/internal/infra/redis"
	"github.com/quillsign/quillsign/internal/observability"
	"github.com/quillsign/quillsign/internal/storage"
)

// StorageBackend constructs the configured backend. OAuth providers get
// their last persisted credential from Redis and write every refresh
// back through the same store.
func StorageBackend(
	ctx context.Context,
	cfg *config.Config,
	rdb *goredis.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (storage.Backend, error) {
	storageCfg, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}

	switch storageCfg.Provider {
	case storage.ProviderDropbox, storage.ProviderBox:
		creds, err := infraredis.NewCredentialStore(rdb)
		if err != nil {
			return nil, err
		}

		provider := storageCfg.Provider.String()
		if stored, ok, err := creds.Load(ctx, provider); err != nil {
			return nil, err
		} else if ok {
			switch storageCfg.Provider {
			case storage.ProviderDropbox:
				storageCfg.Dropbox.Credential = stored
			case storage.ProviderBox:
				storageCfg.Box.Credential = stored
			}
		}

		persist := func(ctx context.Context, cred storage.Credential) error {
			metrics.IncTokenRefresh(provider)
			if err := creds.Save(ctx, provider, cred); err != nil {
				logger.Error("credential persistence failed",
					zap.String("provider", provider),
					zap.Error(err),
				)
				return err
			}
			return nil
		}
		storageCfg.Dropbox.OnCredentialRefresh = persist
		storageCfg.Box.OnCredentialRefresh = persist
	}

	return storage.New(ctx, storageCfg)
}

// MetricsServer serves the Prometheus registry on its own port, away
// from the public API surface.
func MetricsServer(port int, metrics *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
