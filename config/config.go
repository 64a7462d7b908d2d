package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trade-guard/internal/guarderr"
)

type Config struct {
	Account        string               `json:"account" yaml:"account"`
	StoreBackend   string               `json:"store_backend" yaml:"store_backend"` // "postgres" or "memory"
	LockBackend    string               `json:"lock_backend" yaml:"lock_backend"`   // "postgres", "redis" or "memory"
	Risk           RiskLimits           `json:"risk" yaml:"risk"`
	Signals        SignalConfig         `json:"signals" yaml:"signals"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	SystemGuard    SystemGuardConfig    `json:"system_guard" yaml:"system_guard"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	Scheduler      SchedulerConfig      `json:"scheduler" yaml:"scheduler"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
	Database       DatabaseConfig       `json:"database" yaml:"database"`
	Redis          RedisConfig          `json:"redis" yaml:"redis"`
	Server         ServerConfig         `json:"server" yaml:"server"`
	Auth           AuthConfig           `json:"auth" yaml:"auth"`
	Vault          VaultConfig          `json:"vault" yaml:"vault"`
	AI             AIConfig             `json:"ai" yaml:"ai"`
	Journal        JournalConfig        `json:"journal" yaml:"journal"`
	Broker         BrokerConfig         `json:"broker" yaml:"broker"`
	Notification   NotificationConfig   `json:"notification" yaml:"notification"`
}

// RiskLimits is a configuration snapshot; nothing mutates it at runtime
type RiskLimits struct {
	AllowedSymbols        []string           `json:"allowed_symbols" yaml:"allowed_symbols"`
	SymbolClasses         map[string]string  `json:"symbol_classes" yaml:"symbol_classes"` // symbol -> asset class
	DefaultClass          string             `json:"default_class" yaml:"default_class"`
	ClassMaxLeverage      map[string]float64 `json:"class_max_leverage" yaml:"class_max_leverage"`
	SymbolMaxLeverage     map[string]float64 `json:"symbol_max_leverage" yaml:"symbol_max_leverage"`
	AccountMaxLeverage    float64            `json:"account_max_leverage" yaml:"account_max_leverage"`
	SymbolMaxExposure     map[string]float64 `json:"symbol_max_exposure" yaml:"symbol_max_exposure"`
	DefaultSymbolExposure float64            `json:"default_symbol_exposure" yaml:"default_symbol_exposure"`
	ClassMaxExposure      map[string]float64 `json:"class_max_exposure" yaml:"class_max_exposure"`
	AccountMaxExposure    float64            `json:"account_max_exposure" yaml:"account_max_exposure"`
	MaxDailyLoss          float64            `json:"max_daily_loss" yaml:"max_daily_loss"`     // quote currency
	MaxDailyTrades        int                `json:"max_daily_trades" yaml:"max_daily_trades"` // per UTC day
	RiskPerTrade          float64            `json:"risk_per_trade" yaml:"risk_per_trade"`     // fraction of equity
	MaxLossFraction       float64            `json:"max_loss_fraction" yaml:"max_loss_fraction"` // loss per unit notional at stop
	MinTradableNotional   float64            `json:"min_tradable_notional" yaml:"min_tradable_notional"`
	LotStep               float64            `json:"lot_step" yaml:"lot_step"` // notional rounding step, 0 = none
}

// SignalConfig holds the confidence engine weights and thresholds
type SignalConfig struct {
	TechnicalWeight       float64       `json:"technical_weight" yaml:"technical_weight"`
	AIWeight              float64       `json:"ai_weight" yaml:"ai_weight"`
	TrendWeight           float64       `json:"trend_weight" yaml:"trend_weight"`
	MomentumWeight        float64       `json:"momentum_weight" yaml:"momentum_weight"`
	VolumeWeight          float64       `json:"volume_weight" yaml:"volume_weight"`
	TechnicalOnlyPenalty  float64       `json:"technical_only_penalty" yaml:"technical_only_penalty"`
	ActionableThreshold   float64       `json:"actionable_threshold" yaml:"actionable_threshold"`
	MaxOpinionAge         time.Duration `json:"max_opinion_age" yaml:"max_opinion_age"`
	FastPeriod            int           `json:"fast_period" yaml:"fast_period"`
	SlowPeriod            int           `json:"slow_period" yaml:"slow_period"`
	RSIPeriod             int           `json:"rsi_period" yaml:"rsi_period"`
	ATRPeriod             int           `json:"atr_period" yaml:"atr_period"`
	MinCandles            int           `json:"min_candles" yaml:"min_candles"`
}

// CircuitBreakerConfig governs the execution-failure breaker
type CircuitBreakerConfig struct {
	FailureThreshold  int           `json:"failure_threshold" yaml:"failure_threshold"`
	CoolDown          time.Duration `json:"cool_down" yaml:"cool_down"`
	MaxCoolDown       time.Duration `json:"max_cool_down" yaml:"max_cool_down"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	Jitter            float64       `json:"jitter" yaml:"jitter"` // randomization factor 0..1
	TrialTimeout      time.Duration `json:"trial_timeout" yaml:"trial_timeout"`
	Channel           string        `json:"channel" yaml:"channel"`
}

// SystemGuardConfig holds trip thresholds
type SystemGuardConfig struct {
	CatastrophicLoss float64       `json:"catastrophic_loss" yaml:"catastrophic_loss"` // daily realized loss that hard-trips
	LargeTradeLoss   float64       `json:"large_trade_loss" yaml:"large_trade_loss"`   // single-trade loss that soft-trips
	SoftCoolDown     time.Duration `json:"soft_cool_down" yaml:"soft_cool_down"`
	ReservationTTL   time.Duration `json:"reservation_ttl" yaml:"reservation_ttl"` // how long an approved trade holds capacity
}

// RetryConfig is the shared exponential-with-jitter policy
type RetryConfig struct {
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`
	Jitter          float64       `json:"jitter" yaml:"jitter"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
}

type SchedulerConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`               // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output" yaml:"output"`             // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format" yaml:"json_format"`   // Output as JSON
	IncludeFile bool   `json:"include_file" yaml:"include_file"` // Include file and line number
	MaxSizeMB   int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `json:"max_age_days" yaml:"max_age_days"`
}

type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

// RedisConfig holds Redis configuration for locks and state caching
type RedisConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Address  string        `json:"address" yaml:"address"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	PoolSize int           `json:"pool_size" yaml:"pool_size"`
	LockTTL  time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout"` // seconds
}

type AuthConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address"`
	Token      string `json:"token" yaml:"token"`
	MountPath  string `json:"mount_path" yaml:"mount_path"`
	SecretPath string `json:"secret_path" yaml:"secret_path"`
}

// AIConfig points at the external analysis engine that produces AI opinions
type AIConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// BrokerConfig points at the executor's session health endpoint. A
// broker_session trip only auto-recovers when HealthURL is set.
type BrokerConfig struct {
	HealthURL string        `json:"health_url" yaml:"health_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// NotificationConfig holds the operator alert sinks. A sink without its
// credentials stays off.
type NotificationConfig struct {
	TelegramBotToken  string        `json:"telegram_bot_token" yaml:"telegram_bot_token"`
	TelegramChatID    string        `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string        `json:"discord_webhook_url" yaml:"discord_webhook_url"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Load reads .env, then the config file named by CONFIG_FILE (JSON or YAML),
// then environment overrides, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := getEnvOrDefault("CONFIG_FILE", "config.json")
	cfg, err := loadFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Default returns a conservative configuration
func Default() *Config {
	return &Config{
		Account:      "default",
		StoreBackend: "postgres",
		LockBackend:  "postgres",
		Risk: RiskLimits{
			AllowedSymbols:        []string{"BTCUSDT", "ETHUSDT"},
			SymbolClasses:         map[string]string{"BTCUSDT": "crypto", "ETHUSDT": "crypto"},
			DefaultClass:          "crypto",
			ClassMaxLeverage:      map[string]float64{"crypto": 3},
			SymbolMaxLeverage:     map[string]float64{},
			AccountMaxLeverage:    3,
			SymbolMaxExposure:     map[string]float64{},
			DefaultSymbolExposure: 20000,
			ClassMaxExposure:      map[string]float64{"crypto": 30000},
			AccountMaxExposure:    30000,
			MaxDailyLoss:          500,
			MaxDailyTrades:        10,
			RiskPerTrade:          0.01,
			MaxLossFraction:       0.01,
			MinTradableNotional:   10,
			LotStep:               1,
		},
		Signals: SignalConfig{
			TechnicalWeight:      0.6,
			AIWeight:             0.4,
			TrendWeight:          0.5,
			MomentumWeight:       0.3,
			VolumeWeight:         0.2,
			TechnicalOnlyPenalty: 0.15,
			ActionableThreshold:  0.6,
			MaxOpinionAge:        15 * time.Minute,
			FastPeriod:           12,
			SlowPeriod:           26,
			RSIPeriod:            14,
			ATRPeriod:            14,
			MinCandles:           35,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:  3,
			CoolDown:          5 * time.Minute,
			MaxCoolDown:       time.Hour,
			BackoffMultiplier: 2,
			Jitter:            0.2,
			TrialTimeout:      10 * time.Minute,
			Channel:           "default",
		},
		SystemGuard: SystemGuardConfig{
			CatastrophicLoss: 1000,
			LargeTradeLoss:   200,
			SoftCoolDown:     30 * time.Minute,
			ReservationTTL:   2 * time.Minute,
		},
		Retry: RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			Jitter:          0.2,
			MaxRetries:      5,
		},
		Scheduler: SchedulerConfig{Interval: time.Minute},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "trade_guard", Database: "trade_guard", SSLMode: "disable"},
		Redis:    RedisConfig{Address: "localhost:6379", PoolSize: 10, LockTTL: 30 * time.Second},
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8090, AllowedOrigins: "*", ShutdownTimeout: 10},
		Auth:     AuthConfig{Issuer: "trade-guard"},
		Vault:    VaultConfig{Address: "http://localhost:8200", MountPath: "secret", SecretPath: "trade-guard"},
		AI:       AIConfig{Timeout: 10 * time.Second},
		Journal:  JournalConfig{Path: "guard_journal.db"},
		Broker:   BrokerConfig{Timeout: 5 * time.Second},

		Notification: NotificationConfig{Timeout: 10 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Account = getEnvOrDefault("GUARD_ACCOUNT", cfg.Account)
	cfg.StoreBackend = getEnvOrDefault("GUARD_STORE_BACKEND", cfg.StoreBackend)
	cfg.LockBackend = getEnvOrDefault("GUARD_LOCK_BACKEND", cfg.LockBackend)

	// Risk limits
	cfg.Risk.MaxDailyLoss = getEnvFloatOrDefault("RISK_MAX_DAILY_LOSS", cfg.Risk.MaxDailyLoss)
	cfg.Risk.MaxDailyTrades = getEnvIntOrDefault("RISK_MAX_DAILY_TRADES", cfg.Risk.MaxDailyTrades)
	cfg.Risk.RiskPerTrade = getEnvFloatOrDefault("RISK_PER_TRADE", cfg.Risk.RiskPerTrade)
	cfg.Risk.MaxLossFraction = getEnvFloatOrDefault("RISK_MAX_LOSS_FRACTION", cfg.Risk.MaxLossFraction)
	cfg.Risk.AccountMaxLeverage = getEnvFloatOrDefault("RISK_ACCOUNT_MAX_LEVERAGE", cfg.Risk.AccountMaxLeverage)
	cfg.Risk.AccountMaxExposure = getEnvFloatOrDefault("RISK_ACCOUNT_MAX_EXPOSURE", cfg.Risk.AccountMaxExposure)
	cfg.Risk.MinTradableNotional = getEnvFloatOrDefault("RISK_MIN_TRADABLE_NOTIONAL", cfg.Risk.MinTradableNotional)
	if symbols := os.Getenv("RISK_ALLOWED_SYMBOLS"); symbols != "" {
		cfg.Risk.AllowedSymbols = splitList(symbols)
	}

	// Circuit breaker
	cfg.CircuitBreaker.FailureThreshold = getEnvIntOrDefault("CB_FAILURE_THRESHOLD", cfg.CircuitBreaker.FailureThreshold)
	cfg.CircuitBreaker.CoolDown = getEnvDurationOrDefault("CB_COOL_DOWN", cfg.CircuitBreaker.CoolDown)
	cfg.CircuitBreaker.MaxCoolDown = getEnvDurationOrDefault("CB_MAX_COOL_DOWN", cfg.CircuitBreaker.MaxCoolDown)

	// System guard
	cfg.SystemGuard.CatastrophicLoss = getEnvFloatOrDefault("GUARD_CATASTROPHIC_LOSS", cfg.SystemGuard.CatastrophicLoss)
	cfg.SystemGuard.SoftCoolDown = getEnvDurationOrDefault("GUARD_SOFT_COOL_DOWN", cfg.SystemGuard.SoftCoolDown)
	cfg.SystemGuard.ReservationTTL = getEnvDurationOrDefault("GUARD_RESERVATION_TTL", cfg.SystemGuard.ReservationTTL)

	// Scheduler
	cfg.Scheduler.Enabled = getEnvOrDefault("SCHEDULER_ENABLED", strconv.FormatBool(cfg.Scheduler.Enabled)) == "true"
	cfg.Scheduler.Interval = getEnvDurationOrDefault("SCHEDULER_INTERVAL", cfg.Scheduler.Interval)

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", strconv.FormatBool(cfg.Logging.JSONFormat)) == "true"
	cfg.Logging.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", strconv.FormatBool(cfg.Logging.IncludeFile)) == "true"

	// Database
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	// Redis
	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", strconv.FormatBool(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.LockTTL = getEnvDurationOrDefault("REDIS_LOCK_TTL", cfg.Redis.LockTTL)

	// Server & auth
	cfg.Server.Enabled = getEnvOrDefault("SERVER_ENABLED", strconv.FormatBool(cfg.Server.Enabled)) == "true"
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Auth.Enabled = getEnvOrDefault("AUTH_ENABLED", strconv.FormatBool(cfg.Auth.Enabled)) == "true"
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)

	// Vault
	cfg.Vault.Enabled = getEnvOrDefault("VAULT_ENABLED", strconv.FormatBool(cfg.Vault.Enabled)) == "true"
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	// AI opinion source
	cfg.AI.Enabled = getEnvOrDefault("AI_ENABLED", strconv.FormatBool(cfg.AI.Enabled)) == "true"
	cfg.AI.BaseURL = getEnvOrDefault("AI_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AI.APIKey)
	cfg.AI.Timeout = getEnvDurationOrDefault("AI_TIMEOUT", cfg.AI.Timeout)

	// Journal
	cfg.Journal.Enabled = getEnvOrDefault("JOURNAL_ENABLED", strconv.FormatBool(cfg.Journal.Enabled)) == "true"
	cfg.Journal.Path = getEnvOrDefault("JOURNAL_PATH", cfg.Journal.Path)

	// Broker session probe
	cfg.Broker.HealthURL = getEnvOrDefault("BROKER_HEALTH_URL", cfg.Broker.HealthURL)
	cfg.Broker.Timeout = getEnvDurationOrDefault("BROKER_TIMEOUT", cfg.Broker.Timeout)

	// Alerts
	cfg.Notification.TelegramBotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.TelegramBotToken)
	cfg.Notification.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.TelegramChatID)
	cfg.Notification.DiscordWebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.DiscordWebhookURL)
}

// Validate rejects limit values the guard cannot reason about. A bad value
// stops the cycle rather than falling back to a guessed default.
func (c *Config) Validate() error {
	if c.Account == "" {
		return guarderr.Configuration("account", "must not be empty")
	}
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return guarderr.Configuration("store_backend", "unknown backend %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case "postgres", "redis", "memory":
	default:
		return guarderr.Configuration("lock_backend", "unknown backend %q", c.LockBackend)
	}
	if c.LockBackend == "postgres" && c.StoreBackend != "postgres" {
		return guarderr.Configuration("lock_backend", "postgres locks require the postgres store")
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Signals.Validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	if c.SystemGuard.CatastrophicLoss <= 0 || !finite(c.SystemGuard.CatastrophicLoss) {
		return guarderr.Configuration("system_guard.catastrophic_loss", "must be positive")
	}
	if c.SystemGuard.LargeTradeLoss < 0 {
		return guarderr.Configuration("system_guard.large_trade_loss", "must not be negative")
	}
	if c.SystemGuard.SoftCoolDown <= 0 {
		return guarderr.Configuration("system_guard.soft_cool_down", "must be positive")
	}
	if c.SystemGuard.ReservationTTL <= 0 {
		return guarderr.Configuration("system_guard.reservation_ttl", "must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && !c.Vault.Enabled {
		return guarderr.Configuration("auth.jwt_secret", "required when auth is enabled")
	}
	return nil
}

// Validate checks every limit for sign and range
func (r RiskLimits) Validate() error {
	positive := map[string]float64{
		"risk.account_max_leverage":    r.AccountMaxLeverage,
		"risk.account_max_exposure":    r.AccountMaxExposure,
		"risk.default_symbol_exposure": r.DefaultSymbolExposure,
		"risk.max_daily_loss":          r.MaxDailyLoss,
		"risk.risk_per_trade":          r.RiskPerTrade,
		"risk.max_loss_fraction":       r.MaxLossFraction,
	}
	for field, v := range positive {
		if !finite(v) || v <= 0 {
			return guarderr.Configuration(field, "must be a positive number, got %v", v)
		}
	}
	if r.RiskPerTrade > 1 || r.MaxLossFraction > 1 {
		return guarderr.Configuration("risk.risk_per_trade", "fractions must not exceed 1")
	}
	if r.MaxDailyTrades <= 0 {
		return guarderr.Configuration("risk.max_daily_trades", "must be positive, got %d", r.MaxDailyTrades)
	}
	if r.MinTradableNotional < 0 || !finite(r.MinTradableNotional) {
		return guarderr.Configuration("risk.min_tradable_notional", "must not be negative")
	}
	if r.LotStep < 0 || !finite(r.LotStep) {
		return guarderr.Configuration("risk.lot_step", "must not be negative")
	}
	if len(r.AllowedSymbols) == 0 {
		return guarderr.Configuration("risk.allowed_symbols", "whitelist must not be empty")
	}
	if r.DefaultClass == "" {
		return guarderr.Configuration("risk.default_class", "must not be empty")
	}
	for sym, class := range r.SymbolClasses {
		if class == "" {
			return guarderr.Configuration("risk.symbol_classes", "%s has an empty class", sym)
		}
	}
	for name, m := range map[string]map[string]float64{
		"risk.class_max_leverage":  r.ClassMaxLeverage,
		"risk.symbol_max_leverage": r.SymbolMaxLeverage,
		"risk.symbol_max_exposure": r.SymbolMaxExposure,
		"risk.class_max_exposure":  r.ClassMaxExposure,
	} {
		for k, v := range m {
			if !finite(v) || v <= 0 {
				return guarderr.Configuration(name, "%s must be positive, got %v", k, v)
			}
		}
	}
	return nil
}

// Validate checks weights and thresholds
func (s SignalConfig) Validate() error {
	for field, v := range map[string]float64{
		"signals.technical_weight": s.TechnicalWeight,
		"signals.ai_weight":        s.AIWeight,
		"signals.trend_weight":     s.TrendWeight,
		"signals.momentum_weight":  s.MomentumWeight,
		"signals.volume_weight":    s.VolumeWeight,
	} {
		if !finite(v) || v < 0 {
			return guarderr.Configuration(field, "must be a non-negative number")
		}
	}
	if s.TechnicalWeight+s.AIWeight <= 0 {
		return guarderr.Configuration("signals.technical_weight", "technical and ai weights must not both be zero")
	}
	if s.TrendWeight+s.MomentumWeight+s.VolumeWeight <= 0 {
		return guarderr.Configuration("signals.trend_weight", "feature weights must not all be zero")
	}
	if s.TechnicalOnlyPenalty < 0 || s.TechnicalOnlyPenalty > 1 {
		return guarderr.Configuration("signals.technical_only_penalty", "must be within [0,1]")
	}
	if s.ActionableThreshold < 0 || s.ActionableThreshold >= 1 {
		return guarderr.Configuration("signals.actionable_threshold", "must be within [0,1)")
	}
	if s.FastPeriod <= 0 || s.SlowPeriod <= s.FastPeriod {
		return guarderr.Configuration("signals.slow_period", "must exceed a positive fast_period")
	}
	if s.RSIPeriod <= 0 || s.ATRPeriod <= 0 {
		return guarderr.Configuration("signals.rsi_period", "periods must be positive")
	}
	return nil
}

// Validate checks breaker thresholds
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return guarderr.Configuration("circuit_breaker.failure_threshold", "must be positive")
	}
	if c.CoolDown <= 0 {
		return guarderr.Configuration("circuit_breaker.cool_down", "must be positive")
	}
	if c.MaxCoolDown < c.CoolDown {
		return guarderr.Configuration("circuit_breaker.max_cool_down", "must be at least cool_down")
	}
	if c.BackoffMultiplier < 1 {
		return guarderr.Configuration("circuit_breaker.backoff_multiplier", "must be >= 1")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return guarderr.Configuration("circuit_breaker.jitter", "must be within [0,1)")
	}
	if c.Channel == "" {
		return guarderr.Configuration("circuit_breaker.channel", "must not be empty")
	}
	return nil
}

// ClassOf returns the asset class of symbol
func (r RiskLimits) ClassOf(symbol string) string {
	if class, ok := r.SymbolClasses[symbol]; ok {
		return class
	}
	return r.DefaultClass
}

// IsAllowed reports whether symbol is on the whitelist
func (r RiskLimits) IsAllowed(symbol string) bool {
	for _, s := range r.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// LeverageCap returns the tightest leverage cap applying to symbol
func (r RiskLimits) LeverageCap(symbol string) float64 {
	limit := r.AccountMaxLeverage
	if v, ok := r.SymbolMaxLeverage[symbol]; ok {
		limit = math.Min(limit, v)
	} else if v, ok := r.ClassMaxLeverage[r.ClassOf(symbol)]; ok {
		limit = math.Min(limit, v)
	}
	return limit
}

// SymbolExposureCap returns the notional cap for symbol
func (r RiskLimits) SymbolExposureCap(symbol string) float64 {
	if v, ok := r.SymbolMaxExposure[symbol]; ok {
		return v
	}
	return r.DefaultSymbolExposure
}

// ClassExposureCap returns the cap for class; ok is false when uncapped
func (r RiskLimits) ClassExposureCap(class string) (float64, bool) {
	v, ok := r.ClassMaxExposure[class]
	return v, ok
}

// Addr returns host:port for the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
