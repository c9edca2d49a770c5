package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Reserving  ReservingConfig  `yaml:"reserving" mapstructure:"reserving"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Funding    FundingConfig    `yaml:"funding" mapstructure:"funding"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the query API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ReservingConfig holds the actuarial assumptions for a run.
type ReservingConfig struct {
	Grain            string                    `yaml:"grain" mapstructure:"grain"`
	TailFactor       float64                   `yaml:"tail_factor" mapstructure:"tail_factor"`
	MinOriginPeriods int                       `yaml:"min_origin_periods" mapstructure:"min_origin_periods"`
	BFMaxLag         int                       `yaml:"bf_max_lag" mapstructure:"bf_max_lag"`
	CVLimit          float64                   `yaml:"cv_limit" mapstructure:"cv_limit"`
	Concurrency      int                       `yaml:"concurrency" mapstructure:"concurrency"`
	CommitAttempts   int                       `yaml:"commit_attempts" mapstructure:"commit_attempts"`
	AssumptionsFile  string                    `yaml:"assumptions_file" mapstructure:"assumptions_file"`
	Categories       map[string]CategoryConfig `yaml:"categories" mapstructure:"categories"`
}

// CategoryConfig overrides assumptions for a single claim category.
type CategoryConfig struct {
	Method     string  `yaml:"method" mapstructure:"method"`
	TailFactor float64 `yaml:"tail_factor" mapstructure:"tail_factor"`
}

// Category returns the override for name. Lookup ignores case because viper
// lower-cases map keys.
func (r ReservingConfig) Category(name string) CategoryConfig {
	if c, ok := r.Categories[name]; ok {
		return c
	}
	for k, c := range r.Categories {
		if strings.EqualFold(k, name) {
			return c
		}
	}
	return CategoryConfig{}
}

// ConfidenceConfig holds the confidence-score weights and penalties.
type ConfidenceConfig struct {
	DepthWeight         float64 `yaml:"depth_weight" mapstructure:"depth_weight"`
	StabilityWeight     float64 `yaml:"stability_weight" mapstructure:"stability_weight"`
	TargetMature        int     `yaml:"target_mature" mapstructure:"target_mature"`
	MatureLag           int     `yaml:"mature_lag" mapstructure:"mature_lag"`
	CVCap               float64 `yaml:"cv_cap" mapstructure:"cv_cap"`
	ThinLagPenalty      float64 `yaml:"thin_lag_penalty" mapstructure:"thin_lag_penalty"`
	UndefinedLagPenalty float64 `yaml:"undefined_lag_penalty" mapstructure:"undefined_lag_penalty"`
	AnomalyCeiling      int     `yaml:"anomaly_ceiling" mapstructure:"anomaly_ceiling"`
	ExpectedLossScore   int     `yaml:"expected_loss_score" mapstructure:"expected_loss_score"`
}

// FundingConfig holds funding-adequacy thresholds (funded / required).
type FundingConfig struct {
	CriticalRatio      float64 `yaml:"critical_ratio" mapstructure:"critical_ratio"`
	WarningRatio       float64 `yaml:"warning_ratio" mapstructure:"warning_ratio"`
	IncludeCaseReserve bool    `yaml:"include_case_reserve" mapstructure:"include_case_reserve"`
}

// ScheduleConfig configures the monthly-close trigger.
type ScheduleConfig struct {
	Cron     string `yaml:"cron" mapstructure:"cron"`
	CloseLag int    `yaml:"close_lag" mapstructure:"close_lag"` // periods between run date and evaluation period
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// TemporalConfig configures the job-queued recalculate path.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinConfidence        int     `yaml:"min_confidence" mapstructure:"min_confidence"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"` // 0 disables the staleness alert
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IBNR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ibnr.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("reserving.grain", "month")
	v.SetDefault("reserving.tail_factor", 1.0)
	v.SetDefault("reserving.min_origin_periods", 3)
	v.SetDefault("reserving.bf_max_lag", 2)
	v.SetDefault("reserving.cv_limit", 0.25)
	v.SetDefault("reserving.concurrency", 4)
	v.SetDefault("reserving.commit_attempts", 3)
	v.SetDefault("confidence.depth_weight", 0.5)
	v.SetDefault("confidence.stability_weight", 0.5)
	v.SetDefault("confidence.target_mature", 6)
	v.SetDefault("confidence.mature_lag", 2)
	v.SetDefault("confidence.cv_cap", 0.5)
	v.SetDefault("confidence.thin_lag_penalty", 2)
	v.SetDefault("confidence.undefined_lag_penalty", 5)
	v.SetDefault("confidence.anomaly_ceiling", 85)
	v.SetDefault("confidence.expected_loss_score", 50)
	v.SetDefault("funding.critical_ratio", 0.90)
	v.SetDefault("funding.warning_ratio", 1.00)
	v.SetDefault("schedule.cron", "0 6 2 * *")
	v.SetDefault("schedule.close_lag", 1)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "ibnr-recalculate")
	v.SetDefault("monitoring.min_confidence", 60)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24*7)
	v.SetDefault("monitoring.stale_after_hours", 24*40)

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

	if cfg.Reserving.AssumptionsFile != "" {
		if err := cfg.LoadAssumptions(cfg.Reserving.AssumptionsFile); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// assumptionsFile is the layout of a per-category assumptions file.
type assumptionsFile struct {
	Categories map[string]CategoryConfig `yaml:"categories"`
}

// LoadAssumptions merges per-category overrides from a YAML file. Entries in
// the file win over entries from the main config.
func (c *Config) LoadAssumptions(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "config: read assumptions %s", path)
	}
	var f assumptionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrapf(err, "config: parse assumptions %s", path)
	}
	if c.Reserving.Categories == nil {
		c.Reserving.Categories = make(map[string]CategoryConfig, len(f.Categories))
	}
	for name, cat := range f.Categories {
		for existing := range c.Reserving.Categories {
			if strings.EqualFold(existing, name) {
				delete(c.Reserving.Categories, existing)
			}
		}
		c.Reserving.Categories[name] = cat
	}
	return nil
}

// Validate checks that the configuration is usable for the given command mode.
// Modes: "recalculate", "serve", "schedule", "worker".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.Reserving.Grain {
	case "month", "quarter":
	default:
		errs = append(errs, "reserving.grain must be month or quarter")
	}
	if c.Reserving.TailFactor < 1.0 {
		errs = append(errs, "reserving.tail_factor must be >= 1.0")
	}
	if c.Reserving.MinOriginPeriods < 2 {
		errs = append(errs, "reserving.min_origin_periods must be >= 2")
	}
	if c.Reserving.CVLimit <= 0 {
		errs = append(errs, "reserving.cv_limit must be > 0")
	}
	for name, cat := range c.Reserving.Categories {
		if cat.TailFactor != 0 && cat.TailFactor < 1.0 {
			errs = append(errs, "reserving.categories."+name+".tail_factor must be >= 1.0")
		}
		if !model.IsAutoMethod(cat.Method) {
			if _, err := model.ParseReserveMethod(cat.Method); err != nil {
				errs = append(errs, "reserving.categories."+name+".method is not a known method")
			}
		}
	}

	if c.Confidence.DepthWeight < 0 || c.Confidence.StabilityWeight < 0 {
		errs = append(errs, "confidence weights must be >= 0")
	}
	if c.Confidence.DepthWeight+c.Confidence.StabilityWeight <= 0 {
		errs = append(errs, "confidence weights must sum to a positive number")
	}
	if c.Confidence.AnomalyCeiling < 0 || c.Confidence.AnomalyCeiling > 100 {
		errs = append(errs, "confidence.anomaly_ceiling must be in [0, 100]")
	}

	if c.Funding.CriticalRatio <= 0 || c.Funding.WarningRatio < c.Funding.CriticalRatio {
		errs = append(errs, "funding ratios must satisfy 0 < critical_ratio <= warning_ratio")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	case "schedule":
		if c.Schedule.Cron == "" {
			errs = append(errs, "schedule.cron is required")
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
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
