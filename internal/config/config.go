// Package config provides configuration loading and management for sheetbridge.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all sheetbridge environment variables.
const EnvPrefix = "SHEETBRIDGE"

const (
	// DefaultDriveEndpoint is the base URL of the file watch API.
	DefaultDriveEndpoint = "https://www.googleapis.com/drive/v3"

	// DefaultSheetsEndpoint is the base URL of the spreadsheet read API.
	DefaultSheetsEndpoint = "https://sheets.googleapis.com/v4"

	// DefaultRatesEndpoint is the daily currency rate feed.
	DefaultRatesEndpoint = "https://www.cbr.ru/scripts/XML_daily.asp"

	// DefaultCurrencyID selects the quoted currency in the rate feed (USD).
	DefaultCurrencyID = "R01235"

	defaultRetryInterval = time.Minute
)

// Config represents the root configuration structure.
type Config struct {
	// Address is the listen address of the webhook server.
	Address string `yaml:"address,omitempty"`

	Spreadsheet SpreadsheetConfig `yaml:"spreadsheet"`
	Watch       WatchConfig       `yaml:"watch"`
	Rates       RatesConfig       `yaml:"rates,omitempty"`
	Credentials CredentialsConfig `yaml:"credentials,omitempty"`
	Database    *DatabaseConfig   `yaml:"database,omitempty"`
}

// SpreadsheetConfig identifies the mirrored sheet and row range.
type SpreadsheetConfig struct {
	// ID is the spreadsheet identifier.
	ID string `yaml:"id"`

	// Range is the A1-notation row range to mirror, including the header row.
	Range string `yaml:"range"`

	// Endpoint overrides the spreadsheet API base URL. Used in tests.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// WatchConfig configures the change-notification subscription.
type WatchConfig struct {
	// FileID is the tracked file whose changes trigger a sync.
	// Defaults to the spreadsheet ID when empty.
	FileID string `yaml:"fileId,omitempty"`

	// CallbackURL is the externally reachable webhook address registered
	// with the watch service.
	CallbackURL string `yaml:"callbackURL"`

	// Endpoint overrides the watch API base URL. Used in tests.
	Endpoint string `yaml:"endpoint,omitempty"`

	// RetryInterval is the delay before re-running reconciliation after a
	// failed renewal (e.g. "1m", "30s").
	RetryInterval string `yaml:"retryInterval,omitempty"`
}

// RatesConfig configures the daily currency rate feed.
type RatesConfig struct {
	// Endpoint is the rate feed URL.
	Endpoint string `yaml:"endpoint,omitempty"`

	// CurrencyID selects the quoted currency entry in the feed.
	CurrencyID string `yaml:"currencyID,omitempty"`
}

// CredentialsConfig configures the bearer credential used for the watch and
// spreadsheet APIs. Token acquisition and refresh happen outside this
// process; sheetbridge only reads a currently valid token.
type CredentialsConfig struct {
	// TokenFile is the path to a file containing a bearer token.
	TokenFile string `yaml:"tokenFile,omitempty"`
}

// DatabaseConfig defines database connection settings.
type DatabaseConfig struct {
	// Host is the database server hostname or IP address.
	Host string `yaml:"host"`

	// Port is the database server port.
	Port int `yaml:"port"`

	// User is the database username.
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing
	// whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name.
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require,
	// verify-ca, verify-full).
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of open connections in the pool.
	MaxConns int32 `yaml:"maxConns,omitempty"`
}

// GetFileID returns the watched file id, falling back to the spreadsheet id.
func (c *Config) GetFileID() string {
	if c.Watch.FileID != "" {
		return c.Watch.FileID
	}
	return c.Spreadsheet.ID
}

// GetRetryInterval returns the parsed renewal retry interval.
func (c *Config) GetRetryInterval() time.Duration {
	if c.Watch.RetryInterval == "" {
		return defaultRetryInterval
	}
	d, err := time.ParseDuration(c.Watch.RetryInterval)
	if err != nil || d <= 0 {
		return defaultRetryInterval
	}
	return d
}

// GetToken reads the bearer token from the configured file, falling back to
// the SHEETBRIDGE_API_TOKEN environment variable.
func (c *CredentialsConfig) GetToken() (string, error) {
	if c.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(c.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", c.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envToken := os.Getenv(EnvPrefix + "_API_TOKEN"); envToken != "" {
		return envToken, nil
	}

	return "", fmt.Errorf(
		"no API token configured: set credentials.tokenFile or %s_API_TOKEN environment variable", EnvPrefix,
	)
}

// GetPassword returns the database password from the configured file or the
// SHEETBRIDGE_DATABASE_PASSWORD environment variable.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable", EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper
// password handling. The password is URL-escaped to handle special
// characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// Load loads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// Resolve symlinks to prevent symlink attacks.
	// Note that this calls filepath.Clean internally.
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate symlinks: %w", err)
	}

	data, err := os.ReadFile(realPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.Spreadsheet.Endpoint == "" {
		c.Spreadsheet.Endpoint = DefaultSheetsEndpoint
	}
	if c.Watch.Endpoint == "" {
		c.Watch.Endpoint = DefaultDriveEndpoint
	}
	if c.Rates.Endpoint == "" {
		c.Rates.Endpoint = DefaultRatesEndpoint
	}
	if c.Rates.CurrencyID == "" {
		c.Rates.CurrencyID = DefaultCurrencyID
	}
}

// Validate checks the configuration for missing or inconsistent settings.
func (c *Config) Validate() error {
	if c.Spreadsheet.ID == "" {
		return fmt.Errorf("spreadsheet.id is required")
	}
	if c.Spreadsheet.Range == "" {
		return fmt.Errorf("spreadsheet.range is required")
	}
	if c.Watch.CallbackURL == "" {
		return fmt.Errorf("watch.callbackURL is required")
	}
	if _, err := url.Parse(c.Watch.CallbackURL); err != nil {
		return fmt.Errorf("watch.callbackURL is not a valid URL: %w", err)
	}
	if c.Watch.RetryInterval != "" {
		if _, err := time.ParseDuration(c.Watch.RetryInterval); err != nil {
			return fmt.Errorf("watch.retryInterval is not a valid duration: %w", err)
		}
	}
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
		return fmt.Errorf("database.host, database.user and database.database are required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	return nil
}
