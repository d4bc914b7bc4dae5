// Package config loads runtime settings with viper.
//
// Precedence, highest first: environment (DIGEST_ prefix, dots become
// underscores, e.g. DIGEST_SESSION_SECRET), an optional digest.yaml in the
// working directory or /etc/digest, then the defaults below.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreSQLite    = "sqlite"
	StoreDatastore = "datastore"
)

// Mail drivers.
const (
	MailLog  = "log"
	MailSMTP = "smtp"
)

type Config struct {
	Port        int    `mapstructure:"port"`
	BaseURL     string `mapstructure:"base_url"`
	FrontendURL string `mapstructure:"frontend_url"`

	Log          LogConfig          `mapstructure:"log"`
	Store        StoreConfig        `mapstructure:"store"`
	Session      SessionConfig      `mapstructure:"session"`
	Google       GoogleConfig       `mapstructure:"google"`
	Mail         MailConfig         `mapstructure:"mail"`
	Verification VerificationConfig `mapstructure:"verification"`
	Summarizer   SummarizerConfig   `mapstructure:"summarizer"`
	Bcrypt       BcryptConfig       `mapstructure:"bcrypt"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	Driver             string `mapstructure:"driver"`
	SQLitePath         string `mapstructure:"sqlite_path"`
	DatastoreProject   string `mapstructure:"datastore_project"`
	DatastoreNamespace string `mapstructure:"datastore_namespace"`
}

type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	CookieName string        `mapstructure:"cookie_name"`
	Lifetime   time.Duration `mapstructure:"lifetime"`
	Secure     bool          `mapstructure:"secure"`
	SameSite   string        `mapstructure:"same_site"`
}

type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
}

// Enabled reports whether the OAuth routes should be mounted.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != ""
}

type MailConfig struct {
	Driver   string        `mapstructure:"driver"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type VerificationConfig struct {
	Window time.Duration `mapstructure:"window"`
	// SweepInterval of zero disables the background sweeper.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SummarizerConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether /api/summarize should be mounted.
func (s SummarizerConfig) Enabled() bool {
	return s.APIKey != ""
}

type BcryptConfig struct {
	Cost int `mapstructure:"cost"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("log.level", "info")

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.sqlite_path", "data/digest.db")
	v.SetDefault("store.datastore_project", "")
	v.SetDefault("store.datastore_namespace", "")

	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookie_name", "sid")
	v.SetDefault("session.lifetime", 24*time.Hour)
	v.SetDefault("session.secure", false)
	v.SetDefault("session.same_site", "lax")

	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.callback_url", "http://localhost:8080/auth/google/callback")

	v.SetDefault("mail.driver", MailLog)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.timeout", 10*time.Second)

	v.SetDefault("verification.window", 6*time.Hour)
	v.SetDefault("verification.sweep_interval", time.Duration(0))

	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.base_url", "https://api.cohere.com")
	v.SetDefault("summarizer.model", "command-r-plus-08-2024")
	v.SetDefault("summarizer.timeout", 30*time.Second)

	v.SetDefault("bcrypt.cost", 10)
}

// Load reads the configuration. A missing config file is not an error.
func Load() (*Config, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("digest")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/digest")

	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: reading file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalises and checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Mail.Driver = strings.ToLower(strings.TrimSpace(c.Mail.Driver))
	c.Session.SameSite = strings.ToLower(strings.TrimSpace(c.Session.SameSite))
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	}
	if _, err := url.ParseRequestURI(c.FrontendURL); err != nil {
		errs = append(errs, fmt.Errorf("frontend_url: %w", err))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Driver {
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case StoreDatastore:
		if c.Store.DatastoreProject == "" {
			errs = append(errs, errors.New("store.datastore_project is required for the datastore driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if len(c.Session.Secret) < 16 {
		errs = append(errs, errors.New("session.secret must be at least 16 characters"))
	}
	switch c.Session.SameSite {
	case "lax", "strict":
	case "none":
		// Browsers drop SameSite=None cookies without Secure.
		c.Session.Secure = true
	default:
		errs = append(errs, fmt.Errorf("unknown session.same_site %q", c.Session.SameSite))
	}

	if c.Google.Enabled() && (c.Google.ClientSecret == "" || c.Google.CallbackURL == "") {
		errs = append(errs, errors.New("google.client_secret and google.callback_url are required when google.client_id is set"))
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailSMTP:
		if c.Mail.Host == "" || c.Mail.From == "" {
			errs = append(errs, errors.New("mail.host and mail.from are required for the smtp driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail.driver %q", c.Mail.Driver))
	}

	if c.Verification.Window <= 0 {
		errs = append(errs, errors.New("verification.window must be positive"))
	}
	if c.Verification.SweepInterval < 0 {
		errs = append(errs, errors.New("verification.sweep_interval must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SlogLevel parses log.level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
