package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Broker   BrokerConfig   `json:"broker"`
	Engine   EngineConfig   `json:"engine"`
	Market   MarketConfig   `json:"market"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Vault    VaultConfig    `json:"vault"`
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
}

// BrokerConfig holds brokerage API configuration.
// PaperBaseURL and LiveBaseURL select the endpoint per trading mode.
type BrokerConfig struct {
	APIKey       string `json:"api_key"`
	SecretKey    string `json:"secret_key"`
	PaperBaseURL string `json:"paper_base_url"`
	LiveBaseURL  string `json:"live_base_url"`
	DataBaseURL  string `json:"data_base_url"`
	TradingMode  string `json:"trading_mode"` // "paper" or "live"
	SimulateFills bool  `json:"simulate_fills"` // use the in-process paper broker instead of the API
}

// EngineConfig holds pass-level execution defaults. Per-account risk limits
// live in the risk_configs table; these are process-wide knobs.
type EngineConfig struct {
	OrderDelayMs        int     `json:"order_delay_ms"`         // delay between consecutive broker calls in a pass
	AccountDelayMs      int     `json:"account_delay_ms"`       // delay between subscriber accounts in a replication sweep
	RebalanceBandPct    float64 `json:"rebalance_band_pct"`     // allocation drift band before a rebalance trade
	MinTradeValue       float64 `json:"min_trade_value"`        // skip rebalance orders below this notional
	MinBuyingPower      float64 `json:"min_buying_power"`       // floor below which a subscriber account is skipped
	MaxReplicationTickers int   `json:"max_replication_tickers"` // ticker cap for preset/custom strategies
	AutoCorrectDrift    bool    `json:"auto_correct_drift"`
	BreakerMaxFailures  int     `json:"breaker_max_failures"`
	BreakerCooldownMins int     `json:"breaker_cooldown_mins"`
}

// MarketConfig holds the trading-hours window, expressed in the exchange
// time zone (weekdays, [OpenHour:OpenMinute, CloseHour:CloseMinute)).
type MarketConfig struct {
	Timezone    string `json:"timezone"`
	OpenHour    int    `json:"open_hour"`
	OpenMinute  int    `json:"open_minute"`
	CloseHour   int    `json:"close_hour"`
	CloseMinute int    `json:"close_minute"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the per-account pass lock.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for broker credentials.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`  // seconds
	WriteTimeout    int    `json:"write_timeout"` // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would let a live pass start without
// a usable broker endpoint.
func (c *Config) Validate() error {
	switch c.Broker.TradingMode {
	case "paper", "live":
	default:
		return fmt.Errorf("invalid trading mode %q (want paper or live)", c.Broker.TradingMode)
	}
	if c.Broker.TradingMode == "live" && c.Broker.SimulateFills {
		return fmt.Errorf("simulate_fills cannot be enabled in live mode")
	}
	if !c.Broker.SimulateFills && c.Broker.APIKey == "" && !c.Vault.Enabled {
		return fmt.Errorf("broker credentials missing: set BROKER_API_KEY or enable vault")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment values take precedence over config.json.
func applyEnvOverrides(cfg *Config) {
	// Broker
	cfg.Broker.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.Broker.APIKey)
	cfg.Broker.SecretKey = getEnvOrDefault("BROKER_SECRET_KEY", cfg.Broker.SecretKey)
	cfg.Broker.PaperBaseURL = getEnvOrDefault("BROKER_PAPER_BASE_URL", cfg.Broker.PaperBaseURL)
	if cfg.Broker.PaperBaseURL == "" {
		cfg.Broker.PaperBaseURL = "https://paper-api.alpaca.markets"
	}
	cfg.Broker.LiveBaseURL = getEnvOrDefault("BROKER_LIVE_BASE_URL", cfg.Broker.LiveBaseURL)
	if cfg.Broker.LiveBaseURL == "" {
		cfg.Broker.LiveBaseURL = "https://api.alpaca.markets"
	}
	cfg.Broker.DataBaseURL = getEnvOrDefault("BROKER_DATA_BASE_URL", cfg.Broker.DataBaseURL)
	if cfg.Broker.DataBaseURL == "" {
		cfg.Broker.DataBaseURL = "https://data.alpaca.markets"
	}
	cfg.Broker.TradingMode = getEnvOrDefault("TRADING_MODE", cfg.Broker.TradingMode)
	if cfg.Broker.TradingMode == "" {
		cfg.Broker.TradingMode = "paper"
	}
	cfg.Broker.SimulateFills = getEnvOrDefault("BROKER_SIMULATE_FILLS", boolStr(cfg.Broker.SimulateFills)) == "true"

	// Engine
	cfg.Engine.OrderDelayMs = getEnvIntOrDefault("ENGINE_ORDER_DELAY_MS", defaultInt(cfg.Engine.OrderDelayMs, 500))
	cfg.Engine.AccountDelayMs = getEnvIntOrDefault("ENGINE_ACCOUNT_DELAY_MS", defaultInt(cfg.Engine.AccountDelayMs, 2000))
	cfg.Engine.RebalanceBandPct = getEnvFloatOrDefault("ENGINE_REBALANCE_BAND_PCT", defaultFloat(cfg.Engine.RebalanceBandPct, 10.0))
	cfg.Engine.MinTradeValue = getEnvFloatOrDefault("ENGINE_MIN_TRADE_VALUE", defaultFloat(cfg.Engine.MinTradeValue, 10.0))
	cfg.Engine.MinBuyingPower = getEnvFloatOrDefault("ENGINE_MIN_BUYING_POWER", defaultFloat(cfg.Engine.MinBuyingPower, 100.0))
	cfg.Engine.MaxReplicationTickers = getEnvIntOrDefault("ENGINE_MAX_REPLICATION_TICKERS", defaultInt(cfg.Engine.MaxReplicationTickers, 10))
	cfg.Engine.AutoCorrectDrift = getEnvOrDefault("ENGINE_AUTO_CORRECT_DRIFT", boolStr(cfg.Engine.AutoCorrectDrift)) == "true"
	cfg.Engine.BreakerMaxFailures = getEnvIntOrDefault("ENGINE_BREAKER_MAX_FAILURES", defaultInt(cfg.Engine.BreakerMaxFailures, 5))
	cfg.Engine.BreakerCooldownMins = getEnvIntOrDefault("ENGINE_BREAKER_COOLDOWN_MINS", defaultInt(cfg.Engine.BreakerCooldownMins, 15))

	// Market hours (NYSE regular session by default)
	cfg.Market.Timezone = getEnvOrDefault("MARKET_TIMEZONE", defaultStr(cfg.Market.Timezone, "America/New_York"))
	cfg.Market.OpenHour = getEnvIntOrDefault("MARKET_OPEN_HOUR", defaultInt(cfg.Market.OpenHour, 9))
	cfg.Market.OpenMinute = getEnvIntOrDefault("MARKET_OPEN_MINUTE", defaultInt(cfg.Market.OpenMinute, 30))
	cfg.Market.CloseHour = getEnvIntOrDefault("MARKET_CLOSE_HOUR", defaultInt(cfg.Market.CloseHour, 16))
	cfg.Market.CloseMinute = getEnvIntOrDefault("MARKET_CLOSE_MINUTE", cfg.Market.CloseMinute)

	// Database
	cfg.Database.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.Database.Host, "localhost"))
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.Database.Port, 5432))
	cfg.Database.User = getEnvOrDefault("DB_USER", defaultStr(cfg.Database.User, "postgres"))
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.Database.Database, "disclosure_trading"))
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.Database.SSLMode, "disable"))

	// Redis
	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.Redis.Address, "localhost:6379"))
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.Redis.PoolSize, 10))

	// Vault
	cfg.Vault.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.Vault.Enabled)) == "true"
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", defaultStr(cfg.Vault.Address, "http://localhost:8200"))
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultStr(cfg.Vault.MountPath, "secret"))
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultStr(cfg.Vault.SecretPath, "trading-engine/broker-keys"))
	cfg.Vault.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", boolStr(cfg.Vault.TLSEnabled)) == "true"

	// Server
	cfg.Server.Enabled = getEnvOrDefault("SERVER_ENABLED", "true") == "true"
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.Server.Port, 8080))
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", defaultStr(cfg.Server.Host, "0.0.0.0"))
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.Server.AllowedOrigins, "*"))
	cfg.Server.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.Server.ReadTimeout, 30))
	cfg.Server.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.Server.WriteTimeout, 30))
	cfg.Server.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.Server.ShutdownTimeout, 10))

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.Logging.Level, "INFO"))
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", defaultStr(cfg.Logging.Output, "stdout"))
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.Logging.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

// OrderDelay returns the inter-order pacing delay as a duration.
func (c *EngineConfig) OrderDelay() time.Duration {
	return time.Duration(c.OrderDelayMs) * time.Millisecond
}

// AccountDelay returns the inter-account pacing delay as a duration.
func (c *EngineConfig) AccountDelay() time.Duration {
	return time.Duration(c.AccountDelayMs) * time.Millisecond
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
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

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
