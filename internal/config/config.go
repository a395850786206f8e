// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/archive-harvester/internal/browser"
	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_SITE_PASSWORD.
const EnvPrefix = "HARVESTER"

// Backend names accepted by the sink, checkpoint and archive sections.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig       `mapstructure:"site"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Status     StatusConfig     `mapstructure:"status"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SiteConfig describes the remote database and how to log into it.
type SiteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Search            string        `mapstructure:"search"`
	LandingSignature  string        `mapstructure:"landing_signature"`
	PortalLinkText    string        `mapstructure:"portal_link_text"`
	SessionCookie     string        `mapstructure:"session_cookie"`
	DatabaseIDs       []string      `mapstructure:"database_ids"`
	ScopeLabels       []string      `mapstructure:"scope_labels"`
	DetailURLTemplate string        `mapstructure:"detail_url_template"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
}

// ExtractConfig holds the labels used to locate record fields.
type ExtractConfig struct {
	SourceLabel   string `mapstructure:"source_label"`
	DatabaseLabel string `mapstructure:"database_label"`
	AbstractLabel string `mapstructure:"abstract_label"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	ActionQPS         float64       `mapstructure:"action_qps"`
	SettleAfterAction time.Duration `mapstructure:"settle_after_action"`
}

// RecoveryConfig governs session-expiry recovery.
type RecoveryConfig struct {
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// CheckpointConfig selects where progress is persisted.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Table   string `mapstructure:"table"`
	Name    string `mapstructure:"name"`
}

// SinkConfig selects where records are stored.
type SinkConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Table      string `mapstructure:"table"`
}

// PostgresConfig is shared by the postgres sink and checkpoint backends.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig controls raw page snapshots.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoopConfig bounds a run.
type LoopConfig struct {
	MaxRecords int `mapstructure:"max_records"`
}

// StatusConfig controls the status/metrics HTTP server.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps keys to the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"site.base_url": "EBSCO_URL",
	"site.username": "EBSCO_USERNAME",
	"site.password": "EBSCO_PASSWORD",
	"site.search":   "EBSCO_SEARCH",
}

// Load builds a Config from an optional .env file, an optional config file
// and the environment. Site credentials are not required here; callers that
// log in use ValidateSite.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validateOperational(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	layout := harvest.DefaultLayout()

	v.SetDefault("site.base_url", "")
	v.SetDefault("site.username", "")
	v.SetDefault("site.password", "")
	v.SetDefault("site.search", "")
	v.SetDefault("site.landing_signature", layout.LandingSignature)
	v.SetDefault("site.portal_link_text", "EBSCOhost Web")
	v.SetDefault("site.session_cookie", layout.SessionCookie)
	v.SetDefault("site.database_ids", []string{
		"ctrlSelectDb_dbList_ctl08_itemCheck",
		"ctrlSelectDb_dbList_ctl16_itemCheck",
	})
	v.SetDefault("site.scope_labels", []string{"DbTag_1_1"})
	v.SetDefault("site.detail_url_template", layout.DetailURLTemplate)
	v.SetDefault("site.settle_delay", "8s")

	v.SetDefault("extract.source_label", layout.SourceLabel)
	v.SetDefault("extract.database_label", layout.DatabaseLabel)
	v.SetDefault("extract.abstract_label", layout.AbstractLabel)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.action_timeout", "45s")
	v.SetDefault("browser.action_qps", 1.0)
	v.SetDefault("browser.settle_after_action", "500ms")

	v.SetDefault("recovery.settle_delay", "10s")
	v.SetDefault("recovery.max_attempts", 0)
	v.SetDefault("recovery.backoff_initial", "2s")
	v.SetDefault("recovery.backoff_max", "2m")

	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.path", "out/_last_id.txt")
	v.SetDefault("checkpoint.table", "harvest_checkpoints")
	v.SetDefault("checkpoint.name", "default")

	v.SetDefault("sink.backend", BackendSQLite)
	v.SetDefault("sink.sqlite_path", "out/articles.db")
	v.SetDefault("sink.table", "articles")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", "30m")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.base_dir", "out")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")

	v.SetDefault("loop.max_records", 0)

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.port", 9090)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits for a crawl. All
// problems are reported together.
func (c Config) Validate() error {
	return errors.Join(c.ValidateSite(), c.validateOperational())
}

// ValidateSite checks what logging in and searching need. Commands that never
// open the site skip it.
func (c Config) ValidateSite() error {
	var errs []error
	required := map[string]string{
		"site.base_url": c.Site.BaseURL,
		"site.username": c.Site.Username,
		"site.password": c.Site.Password,
		"site.search":   c.Site.Search,
	}
	for _, key := range []string{"site.base_url", "site.username", "site.password", "site.search"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	return errors.Join(errs...)
}

// validateOperational checks limits and backends.
func (c Config) validateOperational() error {
	var errs []error
	if c.Site.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("site.settle_delay must be >= 0"))
	}
	if c.Recovery.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("recovery.max_attempts must be >= 0"))
	}
	if c.Recovery.BackoffInitial < 0 || c.Recovery.BackoffMax < c.Recovery.BackoffInitial {
		errs = append(errs, fmt.Errorf("recovery.backoff_max must be >= recovery.backoff_initial >= 0"))
	}
	if c.Browser.ActionQPS < 0 {
		errs = append(errs, fmt.Errorf("browser.action_qps must be >= 0"))
	}
	if c.Loop.MaxRecords < 0 {
		errs = append(errs, fmt.Errorf("loop.max_records must be >= 0"))
	}

	errs = append(errs, c.validateBackends()...)

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		errs = append(errs, fmt.Errorf("status.port must be in 1..65535"))
	}
	return errors.Join(errs...)
}

func (c Config) validateBackends() []error {
	var errs []error
	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Path == "" {
			errs = append(errs, fmt.Errorf("checkpoint.path is required for the file backend"))
		}
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not one of file, postgres, memory", c.Checkpoint.Backend))
	}

	switch c.Sink.Backend {
	case BackendSQLite:
		if c.Sink.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("sink.sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("sink.backend %q is not one of sqlite, postgres, memory", c.Sink.Backend))
	}

	if c.UsesPostgres() && c.Postgres.DSN == "" {
		errs = append(errs, fmt.Errorf("postgres.dsn is required when a postgres backend is selected"))
	}

	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendLocal:
			if c.Archive.BaseDir == "" {
				errs = append(errs, fmt.Errorf("archive.base_dir is required for the local backend"))
			}
		case BackendGCS:
			if c.Archive.GCSBucket == "" {
				errs = append(errs, fmt.Errorf("archive.gcs_bucket is required for the gcs backend"))
			}
		case BackendMemory:
		default:
			errs = append(errs, fmt.Errorf("archive.backend %q is not one of local, gcs, memory", c.Archive.Backend))
		}
	}
	return errs
}

// UsesPostgres reports whether any backend needs a Postgres pool.
func (c Config) UsesPostgres() bool {
	return c.Sink.Backend == BackendPostgres || c.Checkpoint.Backend == BackendPostgres
}

// Layout applies the configured site details on top of the default layout.
func (c Config) Layout() harvest.Layout {
	layout := harvest.DefaultLayout()
	if c.Site.LandingSignature != "" {
		layout.LandingSignature = c.Site.LandingSignature
	}
	if c.Site.PortalLinkText != "" {
		layout.PortalLink = harvest.LinkText(c.Site.PortalLinkText)
	}
	if c.Site.SessionCookie != "" {
		layout.SessionCookie = c.Site.SessionCookie
	}
	if len(c.Site.DatabaseIDs) > 0 {
		layout.Databases = harvest.IDs(c.Site.DatabaseIDs)
	}
	if len(c.Site.ScopeLabels) > 0 {
		layout.ScopeOptions = harvest.LabelsFor(c.Site.ScopeLabels)
	}
	if c.Site.DetailURLTemplate != "" {
		layout.DetailURLTemplate = c.Site.DetailURLTemplate
	}
	if c.Extract.SourceLabel != "" {
		layout.SourceLabel = c.Extract.SourceLabel
	}
	if c.Extract.DatabaseLabel != "" {
		layout.DatabaseLabel = c.Extract.DatabaseLabel
	}
	if c.Extract.AbstractLabel != "" {
		layout.AbstractLabel = c.Extract.AbstractLabel
	}
	return layout
}

// SessionConfig converts the site section for the session manager.
func (c Config) SessionConfig() harvest.SessionConfig {
	return harvest.SessionConfig{
		BaseURL: c.Site.BaseURL,
		Credentials: harvest.Credentials{
			Username: c.Site.Username,
			Password: c.Site.Password,
		},
		Search:      c.Site.Search,
		SettleDelay: c.Site.SettleDelay,
		Layout:      c.Layout(),
	}
}

// RecoveryConfig converts the recovery section for the supervisor.
func (c Config) RecoveryConfig() harvest.RecoveryConfig {
	return harvest.RecoveryConfig{
		SettleDelay: c.Recovery.SettleDelay,
		MaxAttempts: c.Recovery.MaxAttempts,
		Backoff:     harvest.NewExponentialBackoff(c.Recovery.BackoffInitial, c.Recovery.BackoffMax),
	}
}

// BrowserConfig converts the browser section for the page agent.
func (c Config) BrowserConfig() browser.Config {
	return browser.Config{
		Headless:          c.Browser.Headless,
		UserAgent:         c.Browser.UserAgent,
		ExecPath:          c.Browser.ExecPath,
		WindowWidth:       c.Browser.WindowWidth,
		WindowHeight:      c.Browser.WindowHeight,
		ActionTimeout:     c.Browser.ActionTimeout,
		ActionQPS:         c.Browser.ActionQPS,
		SettleAfterAction: c.Browser.SettleAfterAction,
	}
}
