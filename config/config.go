package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials: faltan las API keys en el entorno. El binario
// aborta con exit code 2.
var ErrMissingCredentials = errors.New("config: faltan BYBIT_API_KEY / BYBIT_API_SECRET")

// Config es la configuración completa del engine.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Trading TradingConfig `yaml:"trading"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`

	// Credenciales: solo por entorno, nunca por YAML.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// EngineConfig controla las cadencias del orquestador.
type EngineConfig struct {
	DiscoverySeconds  int    `yaml:"discovery_seconds"`
	ScoringMillis     int    `yaml:"scoring_millis"`
	BuildingMillis    int    `yaml:"building_millis"`
	ExecutionMillis   int    `yaml:"execution_millis"`
	MonitoringMillis  int    `yaml:"monitoring_millis"`
	PerformanceSecond int    `yaml:"performance_seconds"`
	WatchlistSize     int    `yaml:"watchlist_size"`
	ScoringBatch      int    `yaml:"scoring_batch"`
	MetricsAddr       string `yaml:"metrics_addr"` // vacío = sin /metrics
	StopFile          string `yaml:"stop_file"`
}

// TradingConfig controla capital y umbrales de trading.
type TradingConfig struct {
	Seed           string  `yaml:"seed"`             // capital semilla, quote units
	Buffer         string  `yaml:"buffer"`           // reserva nunca asignable
	EntryThreshold float64 `yaml:"entry_threshold"`  // composite mínimo
	MinProfit      string  `yaml:"min_profit"`       // profit neto mínimo por trade
	MaxDrawdown    float64 `yaml:"max_drawdown"`     // fracción del seed, p.ej. 0.009
	TrailDistance  float64 `yaml:"trail_distance"`   // distancia del trailing stop
	GhostSims      int     `yaml:"ghost_simulations"`
	HedgeRatio     float64 `yaml:"hedge_ratio"`
}

// APIConfig contiene los hosts del venue.
type APIConfig struct {
	Base     string `yaml:"base"`      // vacío = producción
	DemoBase string `yaml:"demo_base"` // vacío = demo por defecto
	Demo     bool   `yaml:"demo"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga el YAML y el .env si existe. Las credenciales vienen solo del
// entorno: BYBIT_API_KEY/BYBIT_API_SECRET, o las variantes _DEMO_ en demo.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := loadCredentials(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadCredentials(cfg *Config) error {
	if cfg.API.Demo {
		cfg.APIKey = os.Getenv("BYBIT_DEMO_API_KEY")
		cfg.APISecret = os.Getenv("BYBIT_DEMO_API_SECRET")
		// Fallback a las keys normales si las demo no están definidas.
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("BYBIT_API_KEY")
			cfg.APISecret = os.Getenv("BYBIT_API_SECRET")
		}
	} else {
		cfg.APIKey = os.Getenv("BYBIT_API_KEY")
		cfg.APISecret = os.Getenv("BYBIT_API_SECRET")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BYBIT_DEMO"); v == "1" || v == "true" {
		cfg.API.Demo = true
	}
}

// setDefaults asegura valores sensatos para todo lo no configurado.
func setDefaults(cfg *Config) {
	if cfg.Engine.DiscoverySeconds <= 0 {
		cfg.Engine.DiscoverySeconds = 60
	}
	if cfg.Engine.ScoringMillis <= 0 {
		cfg.Engine.ScoringMillis = 500
	}
	if cfg.Engine.BuildingMillis <= 0 {
		cfg.Engine.BuildingMillis = 200
	}
	if cfg.Engine.ExecutionMillis <= 0 {
		cfg.Engine.ExecutionMillis = 100
	}
	if cfg.Engine.MonitoringMillis <= 0 {
		cfg.Engine.MonitoringMillis = 200
	}
	if cfg.Engine.PerformanceSecond <= 0 {
		cfg.Engine.PerformanceSecond = 60
	}
	if cfg.Engine.WatchlistSize <= 0 {
		cfg.Engine.WatchlistSize = 12
	}
	if cfg.Engine.ScoringBatch <= 0 {
		cfg.Engine.ScoringBatch = 3
	}
	if cfg.Engine.StopFile == "" {
		cfg.Engine.StopFile = "STOP"
	}
	if cfg.Trading.Seed == "" {
		cfg.Trading.Seed = "12"
	}
	if cfg.Trading.Buffer == "" {
		cfg.Trading.Buffer = "2"
	}
	if cfg.Trading.EntryThreshold <= 0 {
		cfg.Trading.EntryThreshold = 0.75
	}
	if cfg.Trading.MinProfit == "" {
		cfg.Trading.MinProfit = "0.6"
	}
	if cfg.Trading.MaxDrawdown <= 0 {
		cfg.Trading.MaxDrawdown = 0.009
	}
	if cfg.Trading.TrailDistance <= 0 {
		cfg.Trading.TrailDistance = 0.005
	}
	if cfg.Trading.GhostSims <= 0 {
		cfg.Trading.GhostSims = 100
	}
	if cfg.Trading.HedgeRatio <= 0 {
		cfg.Trading.HedgeRatio = 0.5
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "omniperp.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// DiscoveryInterval y compañía convierten las cadencias a time.Duration.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Engine.DiscoverySeconds) * time.Second
}

func (c *Config) ScoringInterval() time.Duration {
	return time.Duration(c.Engine.ScoringMillis) * time.Millisecond
}

func (c *Config) BuildingInterval() time.Duration {
	return time.Duration(c.Engine.BuildingMillis) * time.Millisecond
}

func (c *Config) ExecutionInterval() time.Duration {
	return time.Duration(c.Engine.ExecutionMillis) * time.Millisecond
}

func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.Engine.MonitoringMillis) * time.Millisecond
}

func (c *Config) PerformanceInterval() time.Duration {
	return time.Duration(c.Engine.PerformanceSecond) * time.Second
}
