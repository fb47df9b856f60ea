package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Keywords struct {
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
	Negation  []string `yaml:"negation"`
}

type Classifier struct {
	Keywords            Keywords `yaml:"keywords"`
	MinOrderValue       float64  `yaml:"min_order_value"`      // rupees
	ConfidenceThreshold float64  `yaml:"confidence_threshold"` // [0,1]
}

type Strategy struct {
	LookbackDays            int     `yaml:"lookback_days"`
	MinHistoricalDataPoints int     `yaml:"min_historical_data_points"`
	TargetMultiplier        float64 `yaml:"target_multiplier"`     // must stay < 1
	VolatilityMultiplier    float64 `yaml:"volatility_multiplier"` // stop distance = ATR * this
	MaxHoldingPeriodDays    int     `yaml:"max_holding_period_days"`
	MaxPositionSize         float64 `yaml:"max_position_size"` // rupees
	RiskPerTrade            float64 `yaml:"risk_per_trade"`    // fraction of capital
}

type Risk struct {
	MaxDailyTrades          int     `yaml:"max_daily_trades"`
	MaxWeeklyTrades         int     `yaml:"max_weekly_trades"`
	MaxPortfolioRisk        float64 `yaml:"max_portfolio_risk"` // fraction of capital
	CircuitBreakerThreshold float64 `yaml:"circuit_breaker_threshold"`
	VIXThreshold            float64 `yaml:"vix_threshold"`
	MinBookDepth            int64   `yaml:"min_book_depth"` // shares at top of book
}

type Broker struct {
	TimeoutMs     int `yaml:"timeout_ms"`
	MaxRetries    int `yaml:"max_retries"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffMaxMs  int `yaml:"backoff_max_ms"`
}

type Ingest struct {
	RatePerSec         float64 `yaml:"rate_per_sec"`
	Burst              int     `yaml:"burst"`
	DedupeRetentionSec int     `yaml:"dedupe_retention_seconds"`
}

type Monitor struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

type Root struct {
	Mode          string     `yaml:"mode"` // paper | live
	CapitalBase   float64    `yaml:"capital_base"`
	Classifier    Classifier `yaml:"classifier"`
	Strategy      Strategy   `yaml:"strategy"`
	Risk          Risk       `yaml:"risk"`
	Broker        Broker     `yaml:"broker"`
	Ingest        Ingest     `yaml:"ingest"`
	Monitor       Monitor    `yaml:"monitor"`
	StorePath     string     `yaml:"store_path"`
	OverridesPath string     `yaml:"overrides_path"`
	MetricsAddr   string     `yaml:"metrics_addr"`
	Symbols       string     `yaml:"symbols_path"` // known-symbol table (yaml)
	Debug         bool       `yaml:"debug"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(c); err != nil {
		return c, err
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Mode == "" {
		c.Mode = "paper"
	}
	if c.CapitalBase == 0 {
		c.CapitalBase = 1_000_000
	}
	if len(c.Classifier.Keywords.Primary) == 0 {
		c.Classifier.Keywords.Primary = []string{
			"Award of Order", "Receives Order", "Secures Contract", "Order received", "Bags Order",
		}
	}
	if len(c.Classifier.Keywords.Secondary) == 0 {
		c.Classifier.Keywords.Secondary = []string{"Contract", "Agreement", "Supply", "Purchase Order"}
	}
	if len(c.Classifier.Keywords.Negation) == 0 {
		c.Classifier.Keywords.Negation = []string{
			"to consider", "proposes to", "proposed", "board meeting", "may consider", "potential", "intends to bid",
		}
	}
	if c.Classifier.MinOrderValue == 0 {
		c.Classifier.MinOrderValue = 10_000_000 // 1 crore
	}
	if c.Classifier.ConfidenceThreshold == 0 {
		c.Classifier.ConfidenceThreshold = 0.8
	}
	if c.Strategy.LookbackDays == 0 {
		c.Strategy.LookbackDays = 30
	}
	if c.Strategy.MinHistoricalDataPoints == 0 {
		c.Strategy.MinHistoricalDataPoints = 10
	}
	if c.Strategy.TargetMultiplier == 0 {
		c.Strategy.TargetMultiplier = 0.9
	}
	if c.Strategy.VolatilityMultiplier == 0 {
		c.Strategy.VolatilityMultiplier = 2.0
	}
	if c.Strategy.MaxHoldingPeriodDays == 0 {
		c.Strategy.MaxHoldingPeriodDays = 5
	}
	if c.Strategy.MaxPositionSize == 0 {
		c.Strategy.MaxPositionSize = 50_000
	}
	if c.Strategy.RiskPerTrade == 0 {
		c.Strategy.RiskPerTrade = 0.02
	}
	if c.Risk.MaxDailyTrades == 0 {
		c.Risk.MaxDailyTrades = 5
	}
	if c.Risk.MaxWeeklyTrades == 0 {
		c.Risk.MaxWeeklyTrades = 20
	}
	if c.Risk.MaxPortfolioRisk == 0 {
		c.Risk.MaxPortfolioRisk = 0.10
	}
	if c.Risk.CircuitBreakerThreshold == 0 {
		c.Risk.CircuitBreakerThreshold = 0.05
	}
	if c.Risk.VIXThreshold == 0 {
		c.Risk.VIXThreshold = 25
	}
	if c.Risk.MinBookDepth == 0 {
		c.Risk.MinBookDepth = 500
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 5000
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
	if c.Broker.BackoffBaseMs == 0 {
		c.Broker.BackoffBaseMs = 100
	}
	if c.Broker.BackoffMaxMs == 0 {
		c.Broker.BackoffMaxMs = 5000
	}
	if c.Ingest.RatePerSec == 0 {
		c.Ingest.RatePerSec = 10
	}
	if c.Ingest.Burst == 0 {
		c.Ingest.Burst = 20
	}
	if c.Ingest.DedupeRetentionSec == 0 {
		c.Ingest.DedupeRetentionSec = 24 * 3600
	}
	if c.Monitor.PollIntervalMs == 0 {
		c.Monitor.PollIntervalMs = 1000
	}
	if c.StorePath == "" {
		c.StorePath = "data/engine.db"
	}
	if c.OverridesPath == "" {
		c.OverridesPath = "data/overrides.json"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":8090"
	}
}

func validate(c Root) error {
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("config: mode must be paper or live, got %q", c.Mode)
	}
	if c.Strategy.TargetMultiplier >= 1 {
		return fmt.Errorf("config: target_multiplier must be < 1, got %v", c.Strategy.TargetMultiplier)
	}
	if c.Strategy.RiskPerTrade <= 0 || c.Strategy.RiskPerTrade >= 1 {
		return fmt.Errorf("config: risk_per_trade must be in (0,1), got %v", c.Strategy.RiskPerTrade)
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence_threshold out of range: %v", c.Classifier.ConfidenceThreshold)
	}
	return nil
}
