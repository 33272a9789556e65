package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"feed-attestor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Assets     []AssetConfig    `mapstructure:"assets"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Volatility VolatilityConfig `mapstructure:"volatility"`
	Venues     VenuesConfig     `mapstructure:"venues"`
	Server     ServerConfig     `mapstructure:"server"`
	Ratify     RatifyConfig     `mapstructure:"ratify"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Publish    PublishConfig    `mapstructure:"publish"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// IdentityConfig locates the signing key and the soul document.
type IdentityConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	SoulPath   string `mapstructure:"soul_path"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AssetConfig is one entry of the asset registry.
type AssetConfig struct {
	Symbol string `mapstructure:"symbol"`
	// Feed is the AggregatorV3 contract address of the reference feed.
	Feed string `mapstructure:"feed"`
}

// EngineConfig holds the inference constants.
type EngineConfig struct {
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	HiccupThreshold    float64       `mapstructure:"hiccup_threshold"`
	FloorThreshold     float64       `mapstructure:"floor_threshold"`
	Sensitivity        float64       `mapstructure:"sensitivity"`
	TargetNotional     float64       `mapstructure:"target_notional"`
	SpotFallback       bool          `mapstructure:"spot_fallback"`
	SpotQuorum         int           `mapstructure:"spot_quorum"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
}

// VolatilityConfig sizes the trailing close window.
type VolatilityConfig struct {
	Window int `mapstructure:"window"`
}

// VenuesConfig configures every off-chain market venue.
type VenuesConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	Binance         VenueConfig   `mapstructure:"binance"`
	Coinbase        VenueConfig   `mapstructure:"coinbase"`
	Kraken          KrakenConfig  `mapstructure:"kraken"`
}

// VenueConfig configures one REST venue.
type VenueConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	BaseURL   string            `mapstructure:"base_url"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	RateLimit float64           `mapstructure:"rate_limit"`
	Burst     int               `mapstructure:"burst"`
	Symbols   map[string]string `mapstructure:"symbols"`
	// Invert lists assets whose mapped instrument quotes USD in the asset (USDJPY for JPY).
	Invert []string `mapstructure:"invert"`
}

// KrakenConfig configures the order-book and candle venue.
type KrakenConfig struct {
	VenueConfig `mapstructure:",squash"`
	Depth       int `mapstructure:"depth"`
}

// ServerConfig configures the HTTP façade.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// RatifyConfig points at the remote ratification service.
type RatifyConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig governs the watch cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PublishConfig configures fan-out of signed audits.
type PublishConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis publisher; an empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ATTESTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// defaultAssets is the registry used when none is configured.
var defaultAssets = []map[string]any{
	{"symbol": "BTC", "feed": "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"},
	{"symbol": "USDC", "feed": "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"},
	{"symbol": "JPY", "feed": "0xBcE206caE7f0ec07b545EddE332A47C2F75bbeb3"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "feed-attestor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// bound so ATTESTOR_IDENTITY_PRIVATE_KEY is picked up by Unmarshal
	v.SetDefault("identity.private_key", "")
	v.SetDefault("identity.soul_path", "soul.json")

	v.SetDefault("ethereum.rpc_url", "https://eth.drpc.org")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("assets", defaultAssets)

	v.SetDefault("engine.staleness_threshold", "1h")
	v.SetDefault("engine.hiccup_threshold", 0.02)
	v.SetDefault("engine.floor_threshold", 0.005)
	v.SetDefault("engine.sensitivity", 10.0)
	v.SetDefault("engine.target_notional", 100000.0)
	v.SetDefault("engine.spot_fallback", true)
	v.SetDefault("engine.spot_quorum", 1)
	v.SetDefault("engine.max_concurrency", 4)

	v.SetDefault("volatility.window", 24)

	v.SetDefault("venues.user_agent", "feed-attestor/1.0")
	v.SetDefault("venues.breaker_failures", 5)
	v.SetDefault("venues.breaker_cooldown", "30s")
	v.SetDefault("venues.binance.enabled", true)
	v.SetDefault("venues.binance.base_url", "https://api.binance.com")
	v.SetDefault("venues.binance.timeout", "5s")
	v.SetDefault("venues.binance.rate_limit", 10.0)
	v.SetDefault("venues.binance.burst", 5)
	v.SetDefault("venues.coinbase.enabled", true)
	v.SetDefault("venues.coinbase.base_url", "https://api.exchange.coinbase.com")
	v.SetDefault("venues.coinbase.timeout", "5s")
	v.SetDefault("venues.coinbase.rate_limit", 5.0)
	v.SetDefault("venues.coinbase.burst", 5)
	v.SetDefault("venues.kraken.enabled", true)
	v.SetDefault("venues.kraken.base_url", "https://api.kraken.com")
	v.SetDefault("venues.kraken.timeout", "5s")
	v.SetDefault("venues.kraken.rate_limit", 1.0)
	v.SetDefault("venues.kraken.burst", 3)
	v.SetDefault("venues.kraken.depth", 500)
	v.SetDefault("venues.kraken.symbols", map[string]string{"BTC": "XBTUSD", "JPY": "USDJPY"})
	// the JPY reference feed is USD per JPY; Kraken only lists USD/JPY
	v.SetDefault("venues.kraken.invert", []string{"JPY"})

	v.SetDefault("server.addr", ":8004")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "25s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("ratify.url", "https://pipe.floral.monster/api/8004/ratify")
	v.SetDefault("ratify.timeout", "10s")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("publish.redis.addr", "")
	v.SetDefault("publish.redis.channel", "attestor:audits")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets must list at least one asset")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, a := range c.Assets {
		if strings.TrimSpace(a.Symbol) == "" {
			return fmt.Errorf("assets[%d].symbol must be set", i)
		}
		if !common.IsHexAddress(a.Feed) {
			return fmt.Errorf("assets[%d].feed %q is not a valid address", i, a.Feed)
		}
		key := strings.ToUpper(a.Symbol)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("assets[%d].symbol %s is duplicated", i, a.Symbol)
		}
		seen[key] = struct{}{}
	}
	if c.Engine.StalenessThreshold <= 0 {
		return fmt.Errorf("engine.staleness_threshold must be greater than zero")
	}
	if c.Engine.HiccupThreshold <= 0 {
		return fmt.Errorf("engine.hiccup_threshold must be greater than zero")
	}
	if c.Engine.FloorThreshold <= 0 || c.Engine.FloorThreshold > c.Engine.HiccupThreshold {
		return fmt.Errorf("engine.floor_threshold must be in (0, hiccup_threshold]")
	}
	if c.Engine.Sensitivity <= 0 {
		return fmt.Errorf("engine.sensitivity must be greater than zero")
	}
	if c.Engine.TargetNotional <= 0 {
		return fmt.Errorf("engine.target_notional must be greater than zero")
	}
	if c.Volatility.Window < 2 {
		return fmt.Errorf("volatility.window must be at least 2")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// Asset looks up a registry entry by symbol, case-insensitively.
func (c *Config) Asset(symbol string) (AssetConfig, bool) {
	for _, a := range c.Assets {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return AssetConfig{}, false
}
