package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Index     IndexConfig     `mapstructure:"index"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Gallery   GalleryConfig   `mapstructure:"gallery"`
	Search    SearchConfig    `mapstructure:"search"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the SQL backend. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	}
	return c.Path
}

// StorageConfig describes where image bytes live. An empty Type with an empty
// endpoint means local disk.
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	LocalDir  string `mapstructure:"local_dir"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// IndexConfig selects the similarity index backend: "memory" or "qdrant".
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
}

type ExtractorConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Dimensions  int           `mapstructure:"dimensions"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	MinContrast float64       `mapstructure:"min_contrast"`
	MaxPixels   int64         `mapstructure:"max_pixels"`
}

type GalleryConfig struct {
	MaxUploadBytes  int64    `mapstructure:"max_upload_bytes"`
	AllowedTypes    []string `mapstructure:"allowed_types"`
	DefaultPageSize int      `mapstructure:"default_page_size"`
	MaxPageSize     int      `mapstructure:"max_page_size"`
}

type SearchConfig struct {
	DefaultK int `mapstructure:"default_k"`
	MaxK     int `mapstructure:"max_k"`
}

type IngestConfig struct {
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryInitial    time.Duration `mapstructure:"retry_initial"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`
	SourceDir       string        `mapstructure:"source_dir"`
}

type ReconcileConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// Load reads configuration from an optional YAML file, .env and the environment.
// An empty configPath falls back to CONFIG_PATH and then ./configs/config.yaml.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if configPath == "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Secrets only ever come from the environment or the config file.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "S3_BUCKET")
	_ = v.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	_ = v.BindEnv("extractor.api_key", "JINA_API_KEY")
	_ = v.BindEnv("server.port", "PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.LocalDir != "" {
		cfg.Storage.LocalDir = filepath.Clean(cfg.Storage.LocalDir)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/gallery.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.bucket", "gallery")
	v.SetDefault("storage.local_dir", "./data/images")
	v.SetDefault("storage.public_url", "http://localhost:8000/files")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "gallery_faces")

	v.SetDefault("index.backend", "memory")

	v.SetDefault("extractor.provider", "local")
	v.SetDefault("extractor.timeout", 30*time.Second)
	v.SetDefault("extractor.cache_size", 256)
	v.SetDefault("extractor.min_contrast", 4.0)
	v.SetDefault("extractor.max_pixels", 40_000_000)

	v.SetDefault("gallery.max_upload_bytes", 10<<20)
	v.SetDefault("gallery.allowed_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff",
	})
	v.SetDefault("gallery.default_page_size", 50)
	v.SetDefault("gallery.max_page_size", 200)

	v.SetDefault("search.default_k", 10)
	v.SetDefault("search.max_k", 100)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.batch_size", 20)
	v.SetDefault("ingest.retry_count", 3)
	v.SetDefault("ingest.retry_initial", 100*time.Millisecond)
	v.SetDefault("ingest.retry_max_backoff", 2*time.Second)

	v.SetDefault("reconcile.queue_size", 256)
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Index.Backend {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}
	if c.Search.DefaultK <= 0 || c.Search.MaxK <= 0 {
		return fmt.Errorf("config: search.default_k and search.max_k must be positive")
	}
	if c.Search.DefaultK > c.Search.MaxK {
		return fmt.Errorf("config: search.default_k (%d) exceeds search.max_k (%d)", c.Search.DefaultK, c.Search.MaxK)
	}
	if c.Gallery.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: gallery.max_upload_bytes must be positive")
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 1
	}
	return nil
}
