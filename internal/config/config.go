package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the outage detection engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Detection DetectionConfig `yaml:"detection"`
	ML        MLConfig        `yaml:"ml"`
	External  ExternalConfig  `yaml:"external"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MonitorConfig controls the detection cycle cadence and worker pool.
type MonitorConfig struct {
	HealthSweepSchedule string        `yaml:"healthSweepSchedule"`
	AnomalySchedule     string        `yaml:"anomalySchedule"`
	BaselineSchedule    string        `yaml:"baselineSchedule"`
	AnomalyWindow       time.Duration `yaml:"anomalyWindow"`
	HealthTimeout       time.Duration `yaml:"healthTimeout"`
	CheckStaleness      time.Duration `yaml:"checkStaleness"`
	BaselineLookback    time.Duration `yaml:"baselineLookback"`
	Workers             int           `yaml:"workers"`
}

// DetectionConfig holds the tunable thresholds of the fusion and lifecycle
// stages.
type DetectionConfig struct {
	ThresholdMultiplier float64 `yaml:"thresholdMultiplier"`
	CriticalRatio       float64 `yaml:"criticalRatio"`
	MajorRatio          float64 `yaml:"majorRatio"`
	MLWeight            float64 `yaml:"mlWeight"`
	RegionMinReports    int     `yaml:"regionMinReports"`
}

// MLConfig controls the optional isolation-forest detector.
type MLConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MinSamples    int     `yaml:"minSamples"`
	Contamination float64 `yaml:"contamination"`
	Trees         int     `yaml:"trees"`
	Seed          int64   `yaml:"seed"`
}

// ExternalConfig configures the best-effort corroboration sources.
type ExternalConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MentionsBaseURL   string        `yaml:"mentionsBaseURL"`
	ForumBaseURL      string        `yaml:"forumBaseURL"`
	StatusPageBaseURL string        `yaml:"statusPageBaseURL"`
	IncidentFeedURL   string        `yaml:"incidentFeedURL"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cacheTTL"`
	MentionThreshold  int           `yaml:"mentionThreshold"`
	ForumThreshold    int           `yaml:"forumThreshold"`
}

// DatabaseConfig configures the PostgreSQL store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// CacheConfig controls Valkey-backed caching of external lookups and
// report throttle counters.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	TLS            bool          `yaml:"tls"`
	ThrottleWindow time.Duration `yaml:"throttleWindow"`
	ThrottleLimit  int           `yaml:"throttleLimit"`
}

// NotifyConfig configures the fire-and-forget notification sink.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OUTAGE_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			HealthSweepSchedule: "@every 5m",
			AnomalySchedule:     "@every 15m",
			BaselineSchedule:    "@every 24h",
			AnomalyWindow:       15 * time.Minute,
			HealthTimeout:       10 * time.Second,
			CheckStaleness:      5 * time.Minute,
			BaselineLookback:    30 * 24 * time.Hour,
			Workers:             8,
		},
		Detection: DetectionConfig{
			ThresholdMultiplier: 3.0,
			CriticalRatio:       3.0,
			MajorRatio:          2.0,
			MLWeight:            2.0,
			RegionMinReports:    2,
		},
		ML: MLConfig{
			Enabled:       true,
			MinSamples:    20,
			Contamination: 0.1,
			Trees:         100,
			Seed:          42,
		},
		External: ExternalConfig{
			Enabled:          false,
			Timeout:          5 * time.Second,
			CacheTTL:         2 * time.Minute,
			MentionThreshold: 10,
			ForumThreshold:   5,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:        false,
			DialTimeout:    2 * time.Second,
			ReadTimeout:    500 * time.Millisecond,
			WriteTimeout:   500 * time.Millisecond,
			MaxRetries:     2,
			ThrottleWindow: time.Hour,
			ThrottleLimit:  10,
		},
		Notify:  NotifyConfig{Timeout: 5 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func (c *Config) validate() error {
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor.workers must be positive, got %d", c.Monitor.Workers)
	}
	if c.Monitor.AnomalyWindow <= 0 {
		return errors.New("monitor.anomalyWindow must be positive")
	}
	if c.Detection.ThresholdMultiplier <= 0 {
		return errors.New("detection.thresholdMultiplier must be positive")
	}
	if c.Detection.MajorRatio > c.Detection.CriticalRatio {
		return errors.New("detection.majorRatio must not exceed detection.criticalRatio")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OUTAGE_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("OUTAGE_ENGINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.Workers = n
		}
	}
	if v := os.Getenv("OUTAGE_ENGINE_ANOMALY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.AnomalyWindow = d
		}
	}
	if v := os.Getenv("OUTAGE_ENGINE_THRESHOLD_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ThresholdMultiplier = f
		}
	}
	if v := os.Getenv("OUTAGE_ENGINE_ML_ENABLED"); v != "" {
		cfg.ML.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OUTAGE_ENGINE_EXTERNAL_ENABLED"); v != "" {
		cfg.External.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OUTAGE_ENGINE_EXTERNAL_MENTIONS_URL"); v != "" {
		cfg.External.MentionsBaseURL = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_EXTERNAL_FORUM_URL"); v != "" {
		cfg.External.ForumBaseURL = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_EXTERNAL_STATUS_URL"); v != "" {
		cfg.External.StatusPageBaseURL = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_EXTERNAL_INCIDENTS_URL"); v != "" {
		cfg.External.IncidentFeedURL = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_EXTERNAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.External.Timeout = d
		}
	}
	if v := os.Getenv("OUTAGE_ENGINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OUTAGE_ENGINE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("OUTAGE_ENGINE_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("OUTAGE_ENGINE_NOTIFY_WEBHOOK"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("OUTAGE_ENGINE_NOTIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Notify.Timeout = d
		}
	}
}
