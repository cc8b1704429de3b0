package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"FinRisk/internal/domain/models"
	applogger "FinRisk/pkg/logger"
)

type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		// Per client IP; zero disables the limit.
		RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
		RateBurst     int     `yaml:"rate_burst" default:"20" validate:"gte=0"`
		// Empty disables CORS.
		AllowOrigins []string `yaml:"allow_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log applogger.Config `yaml:"log"`

	Risk       Risk       `yaml:"risk"`
	Gate       Gate       `yaml:"gate"`
	Monitoring Monitoring `yaml:"monitoring"`
	// Scenarios seed the scenario store at startup.
	Scenarios []models.StressScenario `yaml:"scenarios"`

	Kafka struct {
		Brokers        []string `yaml:"brokers"`
		AlertsTopic    string   `yaml:"alerts_topic" default:"risk.alerts"`
		PositionsTopic string   `yaml:"positions_topic" default:"risk.positions"`
		// Empty disables the warning digest.
		LogsTopic    string `yaml:"logs_topic"`
		RequiredAcks int    `yaml:"required_acks" default:"-1"`
		Compression  string `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"5ms"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"finrisk"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finrisk"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		PersistResults   bool          `yaml:"persist_results"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		Prefix      string        `yaml:"prefix" default:"finrisk:"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"10m"`
	} `yaml:"redis"`
	Postgres struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"postgres"`
	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxPerSecond   int           `yaml:"max_per_second" default:"10"`
	} `yaml:"finnhub"`
}

// Risk configures VaR methods and the metrics aggregator.
type Risk struct {
	Method             string                  `yaml:"method" default:"historical" validate:"oneof=historical parametric monte_carlo"`
	HorizonDays        int                     `yaml:"horizon_days" default:"1" validate:"gte=1"`
	Lookback           int                     `yaml:"lookback" default:"252" validate:"gte=2"`
	MinObservations    int                     `yaml:"min_observations" default:"30" validate:"gte=2"`
	Historical         models.HistoricalMethod `yaml:"historical"`
	Parametric         models.ParametricMethod `yaml:"parametric"`
	MonteCarlo         models.MonteCarloMethod `yaml:"monte_carlo"`
	MetricsTTL         time.Duration           `yaml:"metrics_ttl" default:"300s" validate:"gt=0"`
	ComputeTimeout     time.Duration           `yaml:"compute_timeout" default:"30s" validate:"gt=0"`
	RefreshInterval    time.Duration           `yaml:"refresh_interval" default:"60s" validate:"gt=0"`
	JobTimeout         time.Duration           `yaml:"job_timeout" default:"2m" validate:"gt=0"`
	JobRetention       time.Duration           `yaml:"job_retention" default:"1h" validate:"gt=0"`
	LiquidityThreshold float64                 `yaml:"liquidity_threshold" default:"0.1" validate:"gt=0,lte=1"`
	ADVWindow          int                     `yaml:"adv_window" default:"20" validate:"gte=1"`
	Benchmark          string                  `yaml:"benchmark"`
}

// Gate holds the pre-trade limits. Zero disables a limit.
type Gate struct {
	MaxOrderNotional      float64            `yaml:"max_order_notional" validate:"gte=0"`
	MaxPositionQty        map[string]float64 `yaml:"max_position_qty" validate:"dive,gte=0"`
	DefaultMaxPositionQty float64            `yaml:"default_max_position_qty" validate:"gte=0"`
	MaxConcentration      float64            `yaml:"max_concentration" default:"0.25" validate:"gte=0,lte=1"`
	ConcentrationMinGross float64            `yaml:"concentration_min_gross" validate:"gte=0"`
	MaxLeverage           float64            `yaml:"max_leverage" default:"4" validate:"gte=0"`
	MaxVaRPct             float64            `yaml:"max_var_pct" validate:"gte=0,lte=1"`
	MarginRate            float64            `yaml:"margin_rate" validate:"gte=0,lte=1"`
	MaxPriceDeviationBps  int64              `yaml:"max_price_deviation_bps" validate:"gte=0"`
	OrdersPerSecond       float64            `yaml:"orders_per_second" validate:"gte=0"`
	OrderBurst            int                `yaml:"order_burst" default:"1" validate:"gte=0"`
	RequireMetrics        bool               `yaml:"require_metrics"`
	LatencyBudget         time.Duration      `yaml:"latency_budget" default:"5ms" validate:"gt=0"`
}

type Monitoring struct {
	TickInterval time.Duration     `yaml:"tick_interval" default:"10s" validate:"gt=0"`
	Workers      int               `yaml:"workers" default:"4" validate:"gte=1"`
	Rules        []models.RuleSpec `yaml:"rules"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Finnhub.Enabled {
		if len(c.Finnhub.Symbols) == 0 {
			return fmt.Errorf("finnhub.symbols cannot be empty")
		}
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required")
		}
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	seen := make(map[string]bool, len(c.Monitoring.Rules))
	for _, r := range c.Monitoring.Rules {
		if seen[r.ID] {
			return fmt.Errorf("monitoring rule %q defined twice", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// VaRMethod returns the configured default method with lookback and
// minimum observations filled in.
func (r Risk) VaRMethod() models.VaRMethod {
	p := r.Methods()
	switch models.VaRMethodTag(r.Method) {
	case models.MethodParametric:
		return p.Parametric
	case models.MethodMonteCarlo:
		return p.MonteCarlo
	}
	return p.Historical
}

// MethodSet carries the parameters of every method.
type MethodSet struct {
	Historical models.HistoricalMethod
	Parametric models.ParametricMethod
	MonteCarlo models.MonteCarloMethod
}

func (r Risk) Methods() MethodSet {
	h, p, mc := r.Historical, r.Parametric, r.MonteCarlo
	if h.Lookback == 0 {
		h.Lookback = r.Lookback
	}
	if h.MinObservations == 0 {
		h.MinObservations = r.MinObservations
	}
	if p.Lookback == 0 {
		p.Lookback = r.Lookback
	}
	if p.MinObservations == 0 {
		p.MinObservations = r.MinObservations
	}
	if mc.Lookback == 0 {
		mc.Lookback = r.Lookback
	}
	if mc.MinObservations == 0 {
		mc.MinObservations = r.MinObservations
	}
	return MethodSet{Historical: h, Parametric: p, MonteCarlo: mc}
}
