// Package config manages bridge configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig describes how the bridge reaches its controller.
type ConnectionConfig struct {
	Transport            Transport       `yaml:"transport"`
	Host                 string          `yaml:"host"`
	Port                 int             `yaml:"port"`
	Path                 string          `yaml:"path"`
	Identity             string          `yaml:"identity"`
	Version              string          `yaml:"version"`
	Account              int64           `yaml:"account"`
	HandshakeTimeout     time.Duration   `yaml:"handshakeTimeout"`
	MaxReconnectAttempts int             `yaml:"maxReconnectAttempts"`
	ReconnectDelay       time.Duration   `yaml:"reconnectDelay"`
	ReconnectPolicy      ReconnectPolicy `yaml:"reconnectPolicy"`
	MaxReconnectDelay    time.Duration   `yaml:"maxReconnectDelay"`
	KeepaliveInterval    time.Duration   `yaml:"keepaliveInterval"`
	PollInterval         time.Duration   `yaml:"pollInterval"`
}

// Address returns host:port for the configured controller.
func (c ConnectionConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// SchedulerConfig sets the cadence of the cooperative loop.
type SchedulerConfig struct {
	TickInterval  time.Duration `yaml:"tickInterval"`
	TimerInterval time.Duration `yaml:"timerInterval"`
}

// OrdersConfig bounds trading requests.
type OrdersConfig struct {
	MaxVolume    float64 `yaml:"maxVolume"`
	MaxPerSecond float64 `yaml:"maxPerSecond"`
	Burst        int     `yaml:"burst"`
	Deviation    int     `yaml:"deviation"`
	Magic        int64   `yaml:"magic"`
}

// ChartConfig configures the active chart and the indicator cache.
type ChartConfig struct {
	Symbol               string        `yaml:"symbol"`
	Timeframe            string        `yaml:"timeframe"`
	MaxBars              int           `yaml:"maxBars"`
	IdleTimeout          time.Duration `yaml:"idleTimeout"`
	HousekeepingInterval time.Duration `yaml:"housekeepingInterval"`
}

// AccountSeed seeds the simulated terminal account.
type AccountSeed struct {
	Login        int64   `yaml:"login"`
	Name         string  `yaml:"name"`
	Server       string  `yaml:"server"`
	Company      string  `yaml:"company"`
	Currency     string  `yaml:"currency"`
	Balance      float64 `yaml:"balance"`
	Leverage     int     `yaml:"leverage"`
	StopOutLevel float64 `yaml:"stopOutLevel"`
}

// SymbolSeed seeds one instrument of the simulated terminal.
type SymbolSeed struct {
	Name         string  `yaml:"name"`
	Description  string  `yaml:"description"`
	Digits       int     `yaml:"digits"`
	Bid          float64 `yaml:"bid"`
	SpreadPoints int     `yaml:"spreadPoints"`
	ContractSize float64 `yaml:"contractSize"`
	VolumeMin    float64 `yaml:"volumeMin"`
	VolumeMax    float64 `yaml:"volumeMax"`
	VolumeStep   float64 `yaml:"volumeStep"`
	StopsLevel   int     `yaml:"stopsLevel"`
}

// TerminalConfig seeds the in-process simulated terminal.
type TerminalConfig struct {
	Seed    int64        `yaml:"seed"`
	Account AccountSeed  `yaml:"account"`
	Symbols []SymbolSeed `yaml:"symbols"`
}

// JournalConfig selects the trade journal backend.
type JournalConfig struct {
	Driver        JournalDriver `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	RunMigrations bool          `yaml:"runMigrations"`
}

// StatusConfig configures the operator status endpoint. An empty address disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	EnableMetrics  bool          `yaml:"enableMetrics"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the unified bridge configuration.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Connection  ConnectionConfig `yaml:"connection"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Orders      OrdersConfig     `yaml:"orders"`
	Chart       ChartConfig      `yaml:"chart"`
	Terminal    TerminalConfig   `yaml:"terminal"`
	Journal     JournalConfig    `yaml:"journal"`
	Status      StatusConfig     `yaml:"status"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// Load loads the configuration with precedence: defaults → YAML → env vars.
// A missing file is not an error; the defaults are used instead.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	cfg := Default()

	yamlErr := cfg.loadYAML(ctx, configPath)
	if yamlErr != nil && !errors.Is(yamlErr, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load yaml config: %w", yamlErr)
	}

	cfg.loadEnv()

	if err := cfg.Validate(ctx); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Connection: ConnectionConfig{
			Transport:            TransportTCP,
			Host:                 "127.0.0.1",
			Port:                 5555,
			Path:                 "/",
			Identity:             "MT5_EA",
			Version:              "1.0",
			Account:              0,
			HandshakeTimeout:     5 * time.Second,
			MaxReconnectAttempts: 5,
			ReconnectDelay:       5 * time.Second,
			ReconnectPolicy:      ReconnectConstant,
			MaxReconnectDelay:    time.Minute,
			KeepaliveInterval:    60 * time.Second,
			PollInterval:         10 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			TickInterval:  50 * time.Millisecond,
			TimerInterval: time.Second,
		},
		Orders: OrdersConfig{
			MaxVolume:    100,
			MaxPerSecond: 0,
			Burst:        1,
			Deviation:    10,
			Magic:        0,
		},
		Chart: ChartConfig{
			Symbol:               "EURUSD",
			Timeframe:            "H1",
			MaxBars:              5000,
			IdleTimeout:          10 * time.Minute,
			HousekeepingInterval: 60 * time.Second,
		},
		Terminal: TerminalConfig{
			Seed: 1,
			Account: AccountSeed{
				Login:        0,
				Name:         "Demo Account",
				Server:       "Simulator-Demo",
				Company:      "Simulated Broker",
				Currency:     "USD",
				Balance:      10000,
				Leverage:     100,
				StopOutLevel: 50,
			},
			Symbols: []SymbolSeed{
				{Name: "EURUSD", Description: "Euro vs US Dollar", Digits: 5, Bid: 1.08500, SpreadPoints: 12, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, StopsLevel: 10},
				{Name: "GBPUSD", Description: "Great Britain Pound vs US Dollar", Digits: 5, Bid: 1.26500, SpreadPoints: 15, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, StopsLevel: 10},
				{Name: "USDJPY", Description: "US Dollar vs Japanese Yen", Digits: 3, Bid: 151.250, SpreadPoints: 14, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, StopsLevel: 10},
				{Name: "XAUUSD", Description: "Gold vs US Dollar", Digits: 2, Bid: 2350.00, SpreadPoints: 30, ContractSize: 100, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01, StopsLevel: 50},
			},
		},
		Journal: JournalConfig{
			Driver:        JournalNone,
			DSN:           "",
			RunMigrations: true,
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:8880",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			OTLPEndpoint:   "http://localhost:4318",
			ServiceName:    "terminal-bridge",
			OTLPInsecure:   true,
			EnableMetrics:  true,
			MetricInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAML merges the YAML document into the receiver. Keys absent from the
// document keep their current values.
func (c *AppConfig) loadYAML(ctx context.Context, path string) error {
	_ = ctx
	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("BRIDGE_CONFIG")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "config/app.yaml"
	}

	reader, closer, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(bytes, c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// loadEnv loads environment variable overrides.
func (c *AppConfig) loadEnv() {
	if env := strings.TrimSpace(os.Getenv("BRIDGE_ENV")); env != "" {
		c.Environment = Environment(env)
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_HOST")); v != "" {
		c.Connection.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Connection.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_JOURNAL_DSN")); v != "" {
		c.Journal.DSN = v
	}

	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		c.Telemetry.ServiceName = v
	}
}

// Validate normalises the configuration and reports the first invalid setting.
func (c *AppConfig) Validate(ctx context.Context) error {
	_ = ctx

	c.Environment = Environment(normalize(string(c.Environment)))
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if err := c.Connection.validate(); err != nil {
		return fmt.Errorf("connection: %w", err)
	}

	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tickInterval must be >0")
	}
	if c.Scheduler.TimerInterval <= 0 {
		return fmt.Errorf("scheduler timerInterval must be >0")
	}

	if c.Orders.MaxVolume <= 0 {
		return fmt.Errorf("orders maxVolume must be >0")
	}
	if c.Orders.MaxPerSecond < 0 {
		return fmt.Errorf("orders maxPerSecond must be >=0")
	}
	if c.Orders.Burst <= 0 {
		c.Orders.Burst = 1
	}

	c.Chart.Symbol = strings.TrimSpace(c.Chart.Symbol)
	c.Chart.Timeframe = strings.ToUpper(strings.TrimSpace(c.Chart.Timeframe))
	if c.Chart.MaxBars <= 0 {
		return fmt.Errorf("chart maxBars must be >0")
	}
	if c.Chart.IdleTimeout <= 0 {
		return fmt.Errorf("chart idleTimeout must be >0")
	}
	if c.Chart.HousekeepingInterval <= 0 {
		c.Chart.HousekeepingInterval = 60 * time.Second
	}

	if len(c.Terminal.Symbols) == 0 {
		return fmt.Errorf("terminal symbols required")
	}
	seen := make(map[string]struct{}, len(c.Terminal.Symbols))
	for i, sym := range c.Terminal.Symbols {
		name := strings.ToUpper(strings.TrimSpace(sym.Name))
		if name == "" {
			return fmt.Errorf("terminal symbols[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("terminal symbols[%d]: duplicate symbol %s", i, name)
		}
		seen[name] = struct{}{}
		if sym.Bid <= 0 {
			return fmt.Errorf("terminal symbol %s: bid must be >0", name)
		}
		c.Terminal.Symbols[i].Name = name
	}
	if c.Chart.Symbol == "" {
		c.Chart.Symbol = c.Terminal.Symbols[0].Name
	}
	if c.Terminal.Account.Currency == "" {
		c.Terminal.Account.Currency = "USD"
	}

	c.Journal.Driver = JournalDriver(normalize(string(c.Journal.Driver)))
	switch c.Journal.Driver {
	case "", JournalNone:
		c.Journal.Driver = JournalNone
	case JournalSQLite, JournalPostgres:
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return fmt.Errorf("journal dsn required for driver %s", c.Journal.Driver)
		}
	default:
		return fmt.Errorf("unsupported journal driver: %s", c.Journal.Driver)
	}

	c.Status.Addr = strings.TrimSpace(c.Status.Addr)

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "terminal-bridge"
	}
	if c.Telemetry.MetricInterval <= 0 {
		c.Telemetry.MetricInterval = 30 * time.Second
	}

	c.Logging.Level = normalize(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalize(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (c *ConnectionConfig) validate() error {
	c.Transport = Transport(normalize(string(c.Transport)))
	switch c.Transport {
	case TransportTCP, TransportWebsocket:
	default:
		return fmt.Errorf("unsupported transport: %s", c.Transport)
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		return fmt.Errorf("host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be within 1..65535")
	}
	if strings.TrimSpace(c.Identity) == "" {
		return fmt.Errorf("identity required")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshakeTimeout must be >0")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("maxReconnectAttempts must be >0")
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnectDelay must be >=0")
	}
	c.ReconnectPolicy = ReconnectPolicy(normalize(string(c.ReconnectPolicy)))
	switch c.ReconnectPolicy {
	case "":
		c.ReconnectPolicy = ReconnectConstant
	case ReconnectConstant, ReconnectExponential:
	default:
		return fmt.Errorf("unsupported reconnectPolicy: %s", c.ReconnectPolicy)
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepaliveInterval must be >0")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = "/"
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	var (
		candidates []string
		seen       = make(map[string]struct{})
	)
	addCandidate := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			return
		}
		candidate = filepath.Clean(candidate)
		if _, ok := seen[candidate]; ok {
			return
		}
		seen[candidate] = struct{}{}
		candidates = append(candidates, candidate)
	}
	addCandidate(path)
	addCandidate("config/app.yaml")

	var lastErr error
	for _, candidate := range candidates {
		file, err := os.Open(candidate) // #nosec G304 -- configuration paths are controlled by operators.
		if err == nil {
			return file, func() { _ = file.Close() }, nil
		}
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("open app config: %w", err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return nil, nil, fmt.Errorf("open app config: %w", lastErr)
}
