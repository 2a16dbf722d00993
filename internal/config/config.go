package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/xhit/go-str2duration/v2"
)

const (
	defaultAccessSecret  = "change-me-access"
	defaultRefreshSecret = "change-me-refresh"
)

// Lifespan is a duration that also accepts day and week units ("30d", "2w").
type Lifespan time.Duration

func (l *Lifespan) UnmarshalText(text []byte) error {
	d, err := str2duration.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid lifespan %q: %w", text, err)
	}
	*l = Lifespan(d)
	return nil
}

func (l Lifespan) Duration() time.Duration { return time.Duration(l) }

type Config struct {
	Env       string `env:"ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DBAdapter     string `env:"DB_ADAPTER" envDefault:"postgres"`
	SQLiteFile    string `env:"SQLITE_FILE" envDefault:"./data/sessionauth.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"./migrations"`

	// PostgreSQL connection settings
	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"sessionauth"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"sessionauth"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Tokens
	AccessTokenSecret    string   `env:"ACCESS_TOKEN_SECRET" envDefault:"change-me-access"`
	RefreshTokenSecret   string   `env:"REFRESH_TOKEN_SECRET" envDefault:"change-me-refresh"`
	AccessTokenLifespan  Lifespan `env:"ACCESS_TOKEN_LIFESPAN" envDefault:"15m"`
	RefreshTokenLifespan Lifespan `env:"REFRESH_TOKEN_LIFESPAN" envDefault:"30d"`
	TokenIssuer          string   `env:"TOKEN_ISSUER"`

	// Accounts
	Roles                  []string `env:"AUTH_ROLES" envDefault:"user,admin" envSeparator:","`
	BcryptCost             int      `env:"BCRYPT_COST" envDefault:"10"`
	MaxRefreshTokens       int      `env:"MAX_REFRESH_TOKENS" envDefault:"10"`
	RevokeOnPasswordChange bool     `env:"REVOKE_ON_PASSWORD_CHANGE" envDefault:"false"`
	PhoneRegion            string   `env:"PHONE_REGION"`

	// HTTP
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	TrustProxyHeaders  bool     `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}
	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresDB, c.PostgresSSLMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// New loads the configuration from the environment and validates it.
func New() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	roles := c.Roles[:0]
	for _, r := range c.Roles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	c.Roles = roles
	if len(c.Roles) == 0 {
		return errors.New("AUTH_ROLES must list at least one role")
	}

	if c.AccessTokenLifespan <= 0 || c.RefreshTokenLifespan <= 0 {
		return errors.New("token lifespans must be positive")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.IsProduction() {
		if c.AccessTokenSecret == defaultAccessSecret || c.RefreshTokenSecret == defaultRefreshSecret {
			return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be set in production")
		}
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %d", c.RateLimitPerMinute)
	}
	return nil
}
