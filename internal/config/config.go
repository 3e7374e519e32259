package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration shared by the newsdesk binaries.
type Config struct {
	API     API     `yaml:"api"`
	Feed    Feed    `yaml:"feed"`
	View    View    `yaml:"view"`
	Admin   Admin   `yaml:"admin"`
	Relay   Relay   `yaml:"relay"`
	Sim     Sim     `yaml:"sim"`
	Tape    Tape    `yaml:"tape"`
	Logging Logging `yaml:"logging"`
}

// API holds the REST backend endpoint and credentials.
type API struct {
	BaseURL         string        `yaml:"base_url"`
	Token           string        `yaml:"token"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	RetryAttempts   int           `yaml:"retry_attempts"`
}

// Feed configures the realtime WebSocket client. An empty URL is derived
// from API.BaseURL.
type Feed struct {
	URL            string        `yaml:"url"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	StrictEvents   bool          `yaml:"strict_events"`
}

// View holds list presentation parameters.
type View struct {
	PageSize        int `yaml:"page_size"`
	ScrollThreshold int `yaml:"scroll_threshold"`
	RowHeight       int `yaml:"row_height"`
	ViewportHeight  int `yaml:"viewport_height"`
}

// Admin controls job polling.
type Admin struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// Relay configures the gRPC feed relay daemon.
type Relay struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Buffer      int    `yaml:"buffer"`
}

// Sim configures the local backend simulator.
type Sim struct {
	Addr       string        `yaml:"addr"`
	SQLitePath string        `yaml:"sqlite_path"`
	Token      string        `yaml:"token"`
	StepDelay  time.Duration `yaml:"step_delay"`
	RSSURLs    []string      `yaml:"rss_urls"`
	Alpaca     Alpaca        `yaml:"alpaca"`
}

// Alpaca holds credentials for seeding the simulator from Alpaca news.
type Alpaca struct {
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	DataURL   string   `yaml:"data_url"`
	Symbols   []string `yaml:"symbols"`
}

// Tape configures the parquet feed recorder.
type Tape struct {
	Dir string `yaml:"dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration. Values loaded from YAML are
// layered on top of it.
func Default() *Config {
	return &Config{
		API: API{
			BaseURL:         "http://localhost:8000",
			Timeout:         30 * time.Second,
			RateLimitPerMin: 600,
			RetryAttempts:   3,
		},
		Feed: Feed{
			FlushInterval:  500 * time.Millisecond,
			ReconnectDelay: 3 * time.Second,
			MaxReconnects:  10,
			PingInterval:   30 * time.Second,
			ReadTimeout:    90 * time.Second,
			StrictEvents:   true,
		},
		View: View{
			PageSize:        20,
			ScrollThreshold: 300,
			RowHeight:       120,
			ViewportHeight:  900,
		},
		Admin: Admin{
			PollInterval: time.Second,
			PollTimeout:  2 * time.Minute,
		},
		Relay: Relay{
			GRPCAddr:    "localhost:50061",
			MetricsAddr: ":9109",
			Buffer:      256,
		},
		Sim: Sim{
			Addr:       ":8000",
			SQLitePath: "newsdesk-sim.db",
			StepDelay:  2 * time.Second,
		},
		Tape: Tape{
			Dir: "data",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides. A .env file in the
// working directory is loaded into the environment first. An empty path
// skips the file and returns defaults plus overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOptional behaves like Load but treats a missing file as empty.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

// DefaultPath is used when no config file is named.
const DefaultPath = "config/newsdesk.yaml"

// Resolve picks the config file for a binary: the explicit path if given,
// else NEWSDESK_CONFIG, else DefaultPath. A named file must exist; the
// default may be absent.
func Resolve(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if p := os.Getenv("NEWSDESK_CONFIG"); p != "" {
		return Load(p)
	}
	return LoadOptional(DefaultPath)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEWSDESK_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}

	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	// NEWSDESK_TOKEN wins over the generic name.
	if v := os.Getenv("NEWSDESK_TOKEN"); v != "" {
		cfg.API.Token = v
	}

	if v := os.Getenv("NEWSDESK_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Sim.SQLitePath = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Tape.Dir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Sim.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Sim.Alpaca.APISecret = v
	}
}
