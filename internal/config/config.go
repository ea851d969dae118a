package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	Host        string `env:"HOST" envDefault:"localhost"`
	Port        string `env:"PORT" envDefault:"8080"`
	SiteURL     string `env:"SITE_URL" envDefault:"http://localhost:8080"`
	AdminPrefix string `env:"ADMIN_PREFIX" envDefault:"/admin"`

	Storage        string `env:"STORAGE" envDefault:"sqlite"`
	DBPath         string `env:"DB_PATH" envDefault:"redirects.db"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"redirects:"`

	AdminCreds string `env:"ADMIN_CREDENTIALS"`
	JWTSecret  string `env:"JWT_SECRET"`

	RedirectsEnabled  bool   `env:"REDIRECTS_ENABLED" envDefault:"true"`
	Redirect404ToHome bool   `env:"REDIRECT_404_TO_HOME" envDefault:"false"`
	GonePage          string `env:"GONE_PAGE"`
	LegalPage         string `env:"LEGAL_PAGE"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"DEBUG"`
}

// Address is the listen address of the HTTP server.
func (c Config) Address() string {
	return c.Host + ":" + c.Port
}

func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	c.SiteURL = strings.TrimRight(c.SiteURL, "/")
	if !strings.HasPrefix(c.SiteURL, "http") {
		return fmt.Errorf("SITE_URL must be an absolute http(s) URL, got %q", c.SiteURL)
	}

	c.AdminPrefix = "/" + strings.Trim(c.AdminPrefix, "/")
	if c.AdminPrefix == "/" {
		return fmt.Errorf("ADMIN_PREFIX cannot be the site root")
	}

	switch c.Storage {
	case StorageSQLite, StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}

	if c.AdminCreds == "" {
		c.AdminCreds = "admin:admin"
		log.Warn().Msg("using default admin credentials - set ADMIN_CREDENTIALS for production")
	}

	if c.JWTSecret == "" {
		c.JWTSecret = c.AdminCreds
		log.Warn().Msg("using ADMIN_CREDENTIALS as JWT_SECRET - set JWT_SECRET for production")
	}

	return nil
}
