// Package config loads the server's YAML configuration file and
// applies environment overrides. CLI flags always win over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	ClientDir  string        `yaml:"client_dir"`
	DataDir    string        `yaml:"data_dir"`
	Backend    BackendConfig `yaml:"backend"`
	Jobs       JobsConfig    `yaml:"jobs"`
	Hand       HandConfig    `yaml:"hand"`
}

// BackendConfig points at the rendering backend and fixes the default
// generation parameters applied to every request.
type BackendConfig struct {
	URL           string  `yaml:"url"`
	Template      string  `yaml:"template"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	BatchSize     int     `yaml:"batch_size"`
	StyleStrength float64 `yaml:"style_strength"`
}

// JobsConfig bounds the generation job pipeline.
type JobsConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	PollBudget     int      `yaml:"poll_budget"`
	RetryAllowance int      `yaml:"retry_allowance"`
	MaxInFlight    int      `yaml:"max_in_flight"`
}

// HandConfig describes where drawn cards are hinted on screen.
type HandConfig struct {
	TableWidth float64 `yaml:"table_width"`
	Spacing    float64 `yaml:"spacing"`
	Y          float64 `yaml:"y"`
}

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		ClientDir:  "client",
		DataDir:    "data/artifacts",
		Backend: BackendConfig{
			URL:       "http://127.0.0.1:8188",
			Template:  "templates/card_workflow.json",
			Width:     512,
			Height:    512,
			BatchSize: 5,
		},
		Jobs: JobsConfig{
			PollInterval:   Duration(time.Second),
			PollBudget:     120,
			RetryAllowance: 3,
			MaxInFlight:    2,
		},
		Hand: HandConfig{
			TableWidth: 800,
			Spacing:    140,
			Y:          560,
		},
	}
}

// Load reads the config file at path, starting from defaults. A missing
// file is not an error; an empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config. Invalid
// values are logged and ignored rather than failing startup.
func (c *Config) ApplyEnv(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if raw := os.Getenv("TABLE_LISTEN_ADDR"); raw != "" {
		c.ListenAddr = raw
	}
	if raw := os.Getenv("TABLE_CLIENT_DIR"); raw != "" {
		c.ClientDir = raw
	}
	if raw := os.Getenv("TABLE_DATA_DIR"); raw != "" {
		c.DataDir = raw
	}
	if raw := os.Getenv("TABLE_BACKEND_URL"); raw != "" {
		c.Backend.URL = raw
	}
	if raw := os.Getenv("TABLE_TEMPLATE"); raw != "" {
		c.Backend.Template = raw
	}
	if raw := os.Getenv("TABLE_MAX_JOBS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			c.Jobs.MaxInFlight = value
		} else {
			logger.Warn("invalid TABLE_MAX_JOBS", zap.String("value", raw))
		}
	}
	if raw := os.Getenv("TABLE_POLL_INTERVAL"); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			c.Jobs.PollInterval = Duration(value)
		} else {
			logger.Warn("invalid TABLE_POLL_INTERVAL", zap.String("value", raw))
		}
	}
	if raw := os.Getenv("TABLE_POLL_BUDGET"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			c.Jobs.PollBudget = value
		} else {
			logger.Warn("invalid TABLE_POLL_BUDGET", zap.String("value", raw))
		}
	}
}
