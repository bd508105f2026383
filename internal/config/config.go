package config

import (
	"fmt"

	"github.com/Netflix/go-env"

	"github.com/quillsign/quillsign/internal/storage"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	SigningBaseURL    string `env:"SIGNING_BASE_URL,required=true"`
	MailerURL         string `env:"MAILER_URL,required=true"`
	MailerAPIKey      string `env:"MAILER_API_KEY"`
	NotifyRatePerSec  int    `env:"NOTIFY_RATE_PER_SEC,default=100"`
	DispatchWorkers   int    `env:"DISPATCH_WORKERS,default=5"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	SweepIntervalSec  int    `env:"SWEEP_INTERVAL_SEC,default=60"`
	SweepStallAgeSec  int    `env:"SWEEP_STALL_AGE_SEC,default=600"`
	APIPort           int    `env:"API_PORT,default=8080"`
	MetricsPort       int    `env:"METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	StorageProvider   string `env:"STORAGE_PROVIDER,default=s3"`
	StorageRootFolder string `env:"STORAGE_ROOT_FOLDER"`

	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3Region          string `env:"S3_REGION"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3AccessKey       string `env:"S3_ACCESS_KEY"`
	S3SecretKey       string `env:"S3_SECRET_KEY"`
	S3ForcePathStyle  bool   `env:"S3_FORCE_PATH_STYLE,default=false"`
	S3SecondaryRegion string `env:"S3_SECONDARY_REGION"`
	S3SecondaryBucket string `env:"S3_SECONDARY_BUCKET"`

	SidecarBrokerURL  string `env:"SIDECAR_BROKER_URL"`
	SidecarStorageURL string `env:"SIDECAR_STORAGE_URL"`

	DropboxAppKey       string `env:"DROPBOX_APP_KEY"`
	DropboxAppSecret    string `env:"DROPBOX_APP_SECRET"`
	DropboxRefreshToken string `env:"DROPBOX_REFRESH_TOKEN"`

	BoxClientID     string `env:"BOX_CLIENT_ID"`
	BoxClientSecret string `env:"BOX_CLIENT_SECRET"`
	BoxRefreshToken string `env:"BOX_REFRESH_TOKEN"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// StorageConfig maps the environment settings onto a backend selection.
// OAuth persistence callbacks are attached by the caller, since they need
// wiring the environment cannot provide.
func (c *Config) StorageConfig() (storage.Config, error) {
	provider, err := storage.ParseProviderFromString(c.StorageProvider)
	if err != nil {
		return storage.Config{}, err
	}

	s3 := storage.S3Config{
		Endpoint:       c.S3Endpoint,
		Region:         c.S3Region,
		Bucket:         c.S3Bucket,
		AccessKey:      c.S3AccessKey,
		SecretKey:      c.S3SecretKey,
		ForcePathStyle: c.S3ForcePathStyle,
	}

	cfg := storage.Config{
		Provider: provider,
		S3:       s3,
		Regional: storage.RegionalConfig{Default: s3},
		Sidecar: storage.SidecarConfig{
			BrokerURL:  c.SidecarBrokerURL,
			StorageURL: c.SidecarStorageURL,
		},
		Dropbox: storage.DropboxConfig{
			AppKey:     c.DropboxAppKey,
			AppSecret:  c.DropboxAppSecret,
			RootFolder: c.StorageRootFolder,
			Credential: storage.Credential{RefreshToken: c.DropboxRefreshToken},
		},
		Box: storage.BoxConfig{
			ClientID:     c.BoxClientID,
			ClientSecret: c.BoxClientSecret,
			RootFolder:   c.StorageRootFolder,
			Credential:   storage.Credential{RefreshToken: c.BoxRefreshToken},
		},
	}

	if c.S3SecondaryBucket != "" {
		secondary := s3
		secondary.Region = c.S3SecondaryRegion
		secondary.Bucket = c.S3SecondaryBucket
		cfg.Regional.Secondary = &secondary
	}

	return cfg, nil
}
