package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// AppConfig is the full server configuration, loaded from an optional YAML
// file overlaid with AUTH_-prefixed environment variables.
type AppConfig struct {
	Env        string          `koanf:"env"`
	ListenAddr string          `koanf:"listen_addr"`
	IssuerURL  string          `koanf:"issuer_url"`
	LoginURL   string          `koanf:"login_url"`
	DevMode    bool            `koanf:"dev_mode"`
	Database   DatabaseConfig  `koanf:"database"`
	Signing    SigningConfig   `koanf:"signing"`
	Tokens     TokenConfig     `koanf:"tokens"`
	Sessions   SessionConfig   `koanf:"sessions"`
	RateLimit  RateLimitConfig `koanf:"rate_limit"`
	Clients    []ClientConfig  `koanf:"clients"`
	DevUsers   []DevUserConfig `koanf:"dev_users"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type SigningConfig struct {
	// Method is "HS256" or "RS256".
	Method string `koanf:"method"`
	// Secret is the HMAC key (HS256 only).
	Secret string `koanf:"secret"`
	// PrivateKeyFile is a PEM-encoded RSA key (RS256 only).
	PrivateKeyFile string `koanf:"private_key_file"`
}

type TokenConfig struct {
	BrowserTTL time.Duration `koanf:"browser_ttl"`
	CLITTL     time.Duration `koanf:"cli_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

type SessionConfig struct {
	AuthTTL       time.Duration `koanf:"auth_ttl"`
	CodeTTL       time.Duration `koanf:"code_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type RateLimitConfig struct {
	// TokenPerSecond bounds token endpoint requests per client IP.
	TokenPerSecond float64 `koanf:"token_per_second"`
	TokenBurst     int     `koanf:"token_burst"`
}

type ClientConfig struct {
	ID               string   `koanf:"id"`
	RedirectPatterns []string `koanf:"redirect_patterns"`
	// Profile is "browser" or "cli".
	Profile string `koanf:"profile"`
}

type DevUserConfig struct {
	Email          string   `koanf:"email"`
	Password       string   `koanf:"password"`
	APIKey         string   `koanf:"api_key"`
	VendorCode     string   `koanf:"vendor_code"`
	OrganizationID string   `koanf:"organization_id"`
	Scopes         []string `koanf:"scopes"`
}

// Load reads configuration in order: config/config.yaml (optional),
// config/config.<APP_ENV>.yaml (optional), then AUTH_-prefixed environment
// variables with __ as the nesting separator, e.g. AUTH_DATABASE__DSN.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	envName := os.Getenv("APP_ENV")
	if envName == "" {
		envName = "local"
	}

	for _, name := range []string{"config.yaml", "config." + envName + ".yaml"} {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "[config.Load] %s", path)
		}
	}

	if err := k.Load(env.Provider("AUTH_", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "AUTH_"))
	}), nil); err != nil {
		return nil, errors.Wrap(err, "[config.Load] environment")
	}

	var c AppConfig
	if err := k.Unmarshal("", &c); err != nil {
		return nil, errors.Wrap(err, "[config.Load] unmarshal")
	}
	if c.Env == "" {
		c.Env = envName
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *AppConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.IssuerURL == "" {
		c.IssuerURL = "http://localhost" + c.ListenAddr
	}
	if c.LoginURL == "" {
		c.LoginURL = c.IssuerURL + "/login"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:authserver.db?_pragma=busy_timeout(5000)"
	}
	if c.Signing.Method == "" {
		c.Signing.Method = "HS256"
	}
	if c.RateLimit.TokenPerSecond == 0 {
		c.RateLimit.TokenPerSecond = 5
	}
	if c.RateLimit.TokenBurst == 0 {
		c.RateLimit.TokenBurst = 10
	}
}

// Validate rejects configurations that cannot produce a working server.
func (c *AppConfig) Validate() error {
	switch strings.ToUpper(c.Signing.Method) {
	case "HS256":
		if c.Signing.Secret == "" {
			return errors.New("[config.Validate] signing.secret is required for HS256")
		}
		if len(c.Signing.Secret) < 32 {
			return errors.New("[config.Validate] signing.secret must be at least 32 bytes")
		}
	case "RS256":
		if c.Signing.PrivateKeyFile == "" {
			return errors.New("[config.Validate] signing.private_key_file is required for RS256")
		}
	default:
		return errors.Errorf("[config.Validate] unsupported signing method %q", c.Signing.Method)
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3", "postgres", "pgx":
	default:
		return errors.Errorf("[config.Validate] unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("[config.Validate] database.dsn is required")
	}
	if !c.DevMode && len(c.DevUsers) > 0 {
		return errors.New("[config.Validate] dev_users is only permitted with dev_mode enabled")
	}
	return nil
}

// IsProduction reports whether the configured environment is production.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}
