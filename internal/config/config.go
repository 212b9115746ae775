package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DateLayout is the calendar-date form used for study start and end.
const DateLayout = "2006-01-02"

// Config is the top-level configuration.
type Config struct {
	Ohsome     OhsomeConfig     `yaml:"ohsome" mapstructure:"ohsome"`
	Study      StudyConfig      `yaml:"study" mapstructure:"study"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Fit        FitConfig        `yaml:"fit" mapstructure:"fit"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// OhsomeConfig configures the ohsome API client.
type OhsomeConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Filter      string  `yaml:"filter" mapstructure:"filter"`
	Period      string  `yaml:"period" mapstructure:"period"`
}

// StudyConfig describes the region, the cells and the time window under study.
// Regions, when set, lists the regions rank compares. IDProperty stays the
// default for entries that leave it empty.
type StudyConfig struct {
	Region      string         `yaml:"region" mapstructure:"region"`
	GridPath    string         `yaml:"grid_path" mapstructure:"grid_path"`
	IDProperty  string         `yaml:"id_property" mapstructure:"id_property"`
	Regions     []RegionConfig `yaml:"regions" mapstructure:"regions"`
	Cells       []int64        `yaml:"cells" mapstructure:"cells"`
	Start       string         `yaml:"start" mapstructure:"start"`
	End         string         `yaml:"end" mapstructure:"end"`
	MaxSpanDays int            `yaml:"max_span_days" mapstructure:"max_span_days"`
}

// RegionConfig names one region and the grid covering it.
type RegionConfig struct {
	Name       string `yaml:"name" mapstructure:"name"`
	GridPath   string `yaml:"grid_path" mapstructure:"grid_path"`
	IDProperty string `yaml:"id_property" mapstructure:"id_property"`
}

// RetryConfig configures backoff for transient fetch failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitConfig configures the endpoint circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// FitConfig configures the saturation fitter.
type FitConfig struct {
	MinPoints     int `yaml:"min_points" mapstructure:"min_points"`
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// PipelineConfig configures cell processing.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	TopN        int `yaml:"top_n" mapstructure:"top_n"`
}

// OutputConfig configures the report directory and artifacts.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Charts bool   `yaml:"charts" mapstructure:"charts"`
	XLSX   bool   `yaml:"xlsx" mapstructure:"xlsx"`
}

// CacheConfig configures the persistent response cache.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled"`
	TTLHours int  `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// StoreConfig configures run history storage.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures run health alerts raised by serve.
type MonitoringConfig struct {
	Enabled                  bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold     float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	UnconvergedRateThreshold float64 `yaml:"unconverged_rate_threshold" mapstructure:"unconverged_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OHSOME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ohsome.base_url", "https://api.ohsome.org/v1")
	v.SetDefault("ohsome.timeout_secs", 30)
	v.SetDefault("ohsome.rate_limit", 2.0)
	v.SetDefault("ohsome.filter", "")
	v.SetDefault("ohsome.period", "P1D")
	v.SetDefault("study.region", "Curitiba")
	v.SetDefault("study.grid_path", "grid.geojson")
	v.SetDefault("study.id_property", "id")
	v.SetDefault("study.cells", []int64{523, 557})
	v.SetDefault("study.start", "2019-11-01")
	v.SetDefault("study.end", "2021-05-01")
	v.SetDefault("study.max_span_days", 90)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("fit.min_points", 5)
	v.SetDefault("fit.max_iterations", 2000)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.top_n", 10)
	v.SetDefault("output.dir", "resultados")
	v.SetDefault("output.charts", true)
	v.SetDefault("output.xlsx", true)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ohsome.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.unconverged_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of "run",
// "rank", "runs" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "none":
		if mode == "runs" || mode == "serve" {
			errs = append(errs, fmt.Sprintf("store.driver none has no run history for %s", mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite, postgres or none (got %q)", c.Store.Driver))
	}

	switch mode {
	case "run", "rank":
		errs = append(errs, c.validateStudy()...)
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 32 {
			errs = append(errs, "pipeline.concurrency must be between 1 and 32")
		}
		if c.Ohsome.BaseURL == "" {
			errs = append(errs, "ohsome.base_url is required")
		}
		if mode == "rank" && c.Pipeline.TopN < 1 {
			errs = append(errs, "pipeline.top_n must be > 0")
		}
		if mode == "run" && c.Fit.MinPoints < 3 {
			errs = append(errs, "fit.min_points must be >= 3")
		}
		if c.Cache.Enabled && c.Store.Driver == "none" {
			errs = append(errs, "cache.enabled requires a store driver")
		}
	case "runs":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.UnconvergedRateThreshold < 0 || c.Monitoring.UnconvergedRateThreshold > 1 {
			errs = append(errs, "monitoring.unconverged_rate_threshold must be between 0 and 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStudy() []string {
	var errs []string
	start, serr := time.Parse(DateLayout, c.Study.Start)
	if serr != nil {
		errs = append(errs, fmt.Sprintf("study.start must be YYYY-MM-DD (got %q)", c.Study.Start))
	}
	end, eerr := time.Parse(DateLayout, c.Study.End)
	if eerr != nil {
		errs = append(errs, fmt.Sprintf("study.end must be YYYY-MM-DD (got %q)", c.Study.End))
	}
	if serr == nil && eerr == nil && !start.Before(end) {
		errs = append(errs, "study.start must be before study.end")
	}
	if c.Study.MaxSpanDays <= 0 {
		errs = append(errs, "study.max_span_days must be > 0")
	}

	seen := make(map[string]bool)
	for i, r := range c.StudyRegions() {
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, fmt.Sprintf("study region %d needs a name", i))
		}
		if r.GridPath == "" {
			errs = append(errs, fmt.Sprintf("study region %q needs a grid_path", r.Name))
		}
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if seen[key] {
			errs = append(errs, fmt.Sprintf("study region %q is listed twice", r.Name))
		}
		seen[key] = true
	}
	return errs
}

// StudyRegions returns the configured regions, or the single study region
// when none are listed. Regions without an id property inherit
// study.id_property.
func (c *Config) StudyRegions() []RegionConfig {
	if len(c.Study.Regions) == 0 {
		return []RegionConfig{{Name: c.Study.Region, GridPath: c.Study.GridPath, IDProperty: c.Study.IDProperty}}
	}
	out := make([]RegionConfig, len(c.Study.Regions))
	for i, r := range c.Study.Regions {
		if r.IDProperty == "" {
			r.IDProperty = c.Study.IDProperty
		}
		out[i] = r
	}
	return out
}

// UseRegion narrows the study to a single region. A name listed in
// study.regions brings its grid along; a non-empty gridPath wins over both.
// An empty name keeps study.region.
func (c *Config) UseRegion(name, gridPath string) {
	if name == "" {
		name = c.Study.Region
	}
	for _, r := range c.Study.Regions {
		if strings.EqualFold(r.Name, name) {
			name = r.Name
			c.Study.GridPath = r.GridPath
			if r.IDProperty != "" {
				c.Study.IDProperty = r.IDProperty
			}
			break
		}
	}
	c.Study.Region = name
	if gridPath != "" {
		c.Study.GridPath = gridPath
	}
	c.Study.Regions = nil
}

// StudyWindow returns the parsed study start and end as UTC midnights.
func (c *Config) StudyWindow() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, c.Study.Start)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrap(err, "config: parse study.start")
	}
	end, err := time.Parse(DateLayout, c.Study.End)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrap(err, "config: parse study.end")
	}
	return start.UTC(), end.UTC(), nil
}

// MaxSpan returns the study max span as a duration.
func (c *Config) MaxSpan() time.Duration {
	return time.Duration(c.Study.MaxSpanDays) * 24 * time.Hour
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
