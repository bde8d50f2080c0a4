package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultSecretEnv   = "ANTHROPIC_API_KEY"
	defaultControlAddr = "127.0.0.1:9999"
	defaultLogFile     = "./log/llmrelay/relay.log"
)

// Config is the relayctl configuration file.
type Config struct {
	Port           int      `yaml:"port" json:"port"`
	SecretEnv      string   `yaml:"secretEnv" json:"secretEnv"`
	EnvFiles       []string `yaml:"envFiles" json:"envFiles"`
	WorkDir        string   `yaml:"workDir" json:"workDir"`
	StartupTimeout Duration `yaml:"startupTimeout" json:"startupTimeout"`
	LogFile        string   `yaml:"logFile" json:"logFile"`
	LogLevel       string   `yaml:"logLevel" json:"logLevel"`
	ControlAddr    string   `yaml:"controlAddr" json:"controlAddr"`
	EnableRestart  *bool    `yaml:"enableRestart" json:"enableRestart"`
}

// Duration accepts "5s" style strings in YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a yaml or json config from the given path.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // Remove UTF-8 BOM if present
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	default:
		return nil, fmt.Errorf("failed to load config from %s: unsupported format", configPath)
	}
	cfg.applyDefaults()
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.SecretEnv == "" {
		c.SecretEnv = defaultSecretEnv
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = Duration(defaultStartupTimeout)
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ControlAddr == "" {
		c.ControlAddr = defaultControlAddr
	}
}

// RestartEnabled reports whether relayctl relaunches after unexpected exits.
func (c *Config) RestartEnabled() bool {
	return c.EnableRestart == nil || *c.EnableRestart
}

// LoadEnvFiles loads the configured dotenv files into the process
// environment. Missing or unreadable files are logged and skipped.
func (c *Config) LoadEnvFiles(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, raw := range c.EnvFiles {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			logger.Warn("Env file not found or inaccessible", slog.String("file", path), slog.String("err", err.Error()))
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			logger.Warn("Failed to load .env file", slog.String("file", path), slog.String("err", err.Error()))
		}
	}
}

// Secret returns the upstream credential from the configured environment variable.
func (c *Config) Secret() (string, error) {
	v := strings.TrimSpace(os.Getenv(c.SecretEnv))
	if v == "" {
		return "", fmt.Errorf("environment variable %s is empty; set it or add it to an env file", c.SecretEnv)
	}
	return v, nil
}
