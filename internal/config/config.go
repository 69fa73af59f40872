package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xtchd/xtchd/internal/content"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Node        NodeConfig        `mapstructure:"node"`
	Tables      []TableConfig     `mapstructure:"tables"`
	Writer      WriterConfig      `mapstructure:"writer"`
	Verify      VerifyConfig      `mapstructure:"verify"`
	API         APIConfig         `mapstructure:"api"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Log         LogConfig         `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	// URL, when set, is used as is and the discrete fields are ignored.
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

type NodeConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

type TableConfig struct {
	Name           string `mapstructure:"name"`
	VerifyInterval string `mapstructure:"verify_interval"`
}

type WriterConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type VerifyConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type ReplicationConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SlotName        string `mapstructure:"slot_name"`
	PublicationName string `mapstructure:"publication_name"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the YAML file at configPath, applies XTCHD_* environment
// overrides and ${VAR} expansion, and validates the result. An empty path
// loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("xtchd")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		"database.driver", "database.url", "database.host", "database.port", "database.database",
		"database.user", "database.password", "database.sslmode", "database.path",
		"node.id", "node.data_dir", "api.listen_addr", "alerts.enabled", "alerts.slack_webhook",
		"log.level", "log.format",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		c.Node.ID = "xtchd"
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = "./data"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			c.Database.Path = filepath.Join(c.Node.DataDir, "xtchd.db")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			if c.Database.Host == "" {
				return fmt.Errorf("database.host is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database.database is required")
			}
			if c.Database.User == "" {
				return fmt.Errorf("database.user is required")
			}
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	default:
		return fmt.Errorf("invalid database.driver: %s (valid options: postgres, sqlite)", c.Database.Driver)
	}

	if len(c.Tables) == 0 {
		for _, class := range content.Classes() {
			c.Tables = append(c.Tables, TableConfig{Name: class.Table})
		}
	}
	seen := make(map[string]bool)
	for i := range c.Tables {
		t := &c.Tables[i]
		if _, ok := content.ByTable(t.Name); !ok {
			return fmt.Errorf("tables[%d]: %q is not a chained table", i, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("tables[%d]: %q listed twice", i, t.Name)
		}
		seen[t.Name] = true
		if t.VerifyInterval == "" {
			t.VerifyInterval = "10m"
		}
		if d, err := time.ParseDuration(t.VerifyInterval); err != nil || d <= 0 {
			return fmt.Errorf("tables[%d]: invalid verify_interval %q", i, t.VerifyInterval)
		}
	}

	if c.Writer.MaxRetries == 0 {
		c.Writer.MaxRetries = 5
	}
	if c.Writer.MaxRetries < 0 {
		return fmt.Errorf("writer.max_retries must not be negative")
	}
	if c.Writer.RetryBackoff == 0 {
		c.Writer.RetryBackoff = 50 * time.Millisecond
	}
	if c.Writer.MaxBackoff == 0 {
		c.Writer.MaxBackoff = 5 * time.Second
	}

	if c.Verify.PageSize == 0 {
		c.Verify.PageSize = 500
	}
	if c.Verify.PageSize < 0 {
		return fmt.Errorf("verify.page_size must be positive")
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = "127.0.0.1:8080"
	}

	if c.Replication.Enabled && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("replication requires database.driver %s", DriverPostgres)
	}
	if c.Replication.SlotName == "" {
		c.Replication.SlotName = "xtchd_slot"
	}
	if c.Replication.PublicationName == "" {
		c.Replication.PublicationName = "xtchd_pub"
	}

	if c.Alerts.Enabled && c.Alerts.SlackWebhook == "" {
		return fmt.Errorf("alerts.slack_webhook is required when alerts are enabled")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (valid options: text, json)", c.Log.Format)
	}

	return nil
}

func (c *Config) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// ConnectionString is the PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.User, d.Password, d.SSLMode)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level: %s (valid options: debug, info, warn, error)", s)
	}
	return level, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
