// Package config exposes strongly typed engine configuration loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, metrics address, and log level.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Symbols names the tracked price symbol and the memecoin aggregate series.
type Symbols struct {
	Spot          string `yaml:"spot"`           // e.g. SOLUSDT
	MemeAggregate string `yaml:"meme_aggregate"` // e.g. MEME_AGG
}

// Thresholds holds the tunable strategy knobs supplied by the research layer.
type Thresholds struct {
	MemeDropPct  float64 `yaml:"meme_drop_pct"`
	RSIMax       float64 `yaml:"rsi_max"`
	RSIPeriod    int     `yaml:"rsi_period"`
	SupportLow   float64 `yaml:"support_low"`
	SupportHigh  float64 `yaml:"support_high"`
	StopLoss     float64 `yaml:"stop_loss"`
	TakeProfit1  float64 `yaml:"take_profit_1"`
	TakeProfit2  float64 `yaml:"take_profit_2"`
	MaxTradeRisk float64 `yaml:"max_trade_risk"`
}

// Risk encodes the gating policy applied before any order reaches the venue.
type Risk struct {
	PauseThreshold int  `yaml:"pause_threshold"` // consecutive losses before entries pause
	NewsLock       bool `yaml:"news_lock"`
}

// Execution tunes the tranche program and the cancel/replace loop.
type Execution struct {
	TrancheCount     int           `yaml:"tranche_count"`
	TrancheHorizon   time.Duration `yaml:"tranche_horizon"`
	RepriceTolerance float64       `yaml:"reprice_tolerance"` // fraction, e.g. 0.001
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	TP1Fraction      float64       `yaml:"tp1_fraction"`
}

// Feed configures one upstream market data source.
type Feed struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Feeds groups every upstream source the mux multiplexes.
type Feeds struct {
	SolanaWS     Feed          `yaml:"solana_ws"`
	PumpFun      Feed          `yaml:"pumpfun"`
	DeFiLlama    Feed          `yaml:"defillama"`
	CEX          Feed          `yaml:"cex"`
	Interval     time.Duration `yaml:"candle_interval"`
	GapTolerance int           `yaml:"gap_tolerance"` // missed intervals before a rolling-state reset
	QueueSize    int           `yaml:"queue_size"`
}

// Venue selects and configures the execution venue.
type Venue struct {
	Mode        string `yaml:"mode"` // paper|jupiter
	RpcURL      string `yaml:"rpc_url"`
	Commitment  string `yaml:"commitment"` // processed|confirmed|finalized
	JupiterBase string `yaml:"jupiter_base"`
	SlippageBps int    `yaml:"slippage_bps"`
}

// StoreConfig configures the persistence collaborator.
type StoreConfig struct {
	JSONLPath   string `yaml:"jsonl_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Alert configures the fire-and-forget notifier.
type Alert struct {
	TelegramChatID int64 `yaml:"telegram_chat_id"`
}

// Ledger seeds the authoritative account state.
type Ledger struct {
	StartingEquity float64 `yaml:"starting_equity"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App         `yaml:"app"`
	Symbols    Symbols     `yaml:"symbols"`
	Thresholds Thresholds  `yaml:"thresholds"`
	Risk       Risk        `yaml:"risk"`
	Execution  Execution   `yaml:"execution"`
	Feeds      Feeds       `yaml:"feeds"`
	Venue      Venue       `yaml:"venue"`
	Store      StoreConfig `yaml:"store"`
	Alert      Alert       `yaml:"alert"`
	Ledger     Ledger      `yaml:"ledger"`
}

// Credentials holds secrets sourced from the environment. Never logged
// and never part of the YAML file.
type Credentials struct {
	SolanaPrivateKeyBase58 string
	TelegramToken          string
}

// Load reads a YAML file from disk, hydrates a Config, and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadCredentials pulls secrets from the environment, reading .env best-effort.
func LoadCredentials() Credentials {
	_ = godotenv.Load()
	return Credentials{
		SolanaPrivateKeyBase58: os.Getenv("SOLANA_PRIVATE_KEY_BASE58"),
		TelegramToken:          os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
}

func (c *Config) applyDefaults() {
	if c.Thresholds.MemeDropPct == 0 {
		c.Thresholds.MemeDropPct = 0.30
	}
	if c.Thresholds.RSIMax == 0 {
		c.Thresholds.RSIMax = 45
	}
	if c.Thresholds.RSIPeriod == 0 {
		c.Thresholds.RSIPeriod = 14
	}
	if c.Thresholds.SupportLow == 0 {
		c.Thresholds.SupportLow = 160
	}
	if c.Thresholds.SupportHigh == 0 {
		c.Thresholds.SupportHigh = 162
	}
	if c.Thresholds.MaxTradeRisk == 0 {
		c.Thresholds.MaxTradeRisk = 0.05
	}
	if c.Risk.PauseThreshold == 0 {
		c.Risk.PauseThreshold = 4
	}
	if c.Execution.TrancheCount == 0 {
		c.Execution.TrancheCount = 3
	}
	if c.Execution.TrancheHorizon == 0 {
		c.Execution.TrancheHorizon = 3 * time.Hour
	}
	if c.Execution.RepriceTolerance == 0 {
		c.Execution.RepriceTolerance = 0.001
	}
	if c.Execution.ShutdownGrace == 0 {
		c.Execution.ShutdownGrace = 5 * time.Second
	}
	if c.Execution.TP1Fraction == 0 {
		c.Execution.TP1Fraction = 0.6
	}
	if c.Feeds.Interval == 0 {
		c.Feeds.Interval = 5 * time.Minute
	}
	if c.Feeds.GapTolerance == 0 {
		c.Feeds.GapTolerance = 5
	}
	if c.Feeds.QueueSize == 0 {
		c.Feeds.QueueSize = 1024
	}
}

// Validate rejects configurations the engine must not trade on.
func (c *Config) Validate() error {
	if c.Symbols.Spot == "" {
		return fmt.Errorf("symbols.spot is required")
	}
	if c.Thresholds.SupportLow > c.Thresholds.SupportHigh {
		return fmt.Errorf("support band inverted: [%.2f, %.2f]", c.Thresholds.SupportLow, c.Thresholds.SupportHigh)
	}
	if c.Thresholds.StopLoss >= c.Thresholds.SupportLow {
		return fmt.Errorf("stop_loss %.2f must sit below support_low %.2f", c.Thresholds.StopLoss, c.Thresholds.SupportLow)
	}
	if c.Thresholds.MaxTradeRisk <= 0 || c.Thresholds.MaxTradeRisk > 1 {
		return fmt.Errorf("max_trade_risk %.3f out of (0,1]", c.Thresholds.MaxTradeRisk)
	}
	if c.Execution.TP1Fraction <= 0 || c.Execution.TP1Fraction >= 1 {
		return fmt.Errorf("tp1_fraction %.2f out of (0,1)", c.Execution.TP1Fraction)
	}
	return nil
}
