package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Model defaults. Requests naming models outside the supported family are
// remapped by the session layer before a provider call is made.
const (
	DefaultModel           = "gemini-3-flash-preview"
	DefaultMultimodalModel = "gemini-2.0-flash-exp"
)

// Config captures the tunable runtime settings for the controller daemon.
type Config struct {
	GeminiAPIKey          string `yaml:"gemini_api_key"`
	ControlToken          string `yaml:"control_token"`
	WorkspaceRoot         string `yaml:"workspace_root"`
	Port                  int    `yaml:"port"`
	Model                 string `yaml:"model"`
	ConversationDBPath    string `yaml:"conversation_db_path"`
	LogPath               string `yaml:"log_path"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	ShellTimeoutSeconds   int    `yaml:"shell_timeout_seconds"`
	MaxLoopIterations     int    `yaml:"max_loop_iterations"`
}

// Load reads the YAML configuration from disk, injects defaults, and applies
// environment overrides. A missing file is not an error; defaults are used.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = filepath.Join(GetConfigDir(), "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments win over the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		c.GeminiAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AG_CONTROL_TOKEN")); v != "" {
		c.ControlToken = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKSPACE_PATH")); v != "" {
		c.WorkspaceRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("AG_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.WorkspaceRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.WorkspaceRoot = filepath.Join(home, "workspace")
	}
	if c.Port == 0 {
		c.Port = 3460
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.ConversationDBPath == "" {
		c.ConversationDBPath = filepath.Join(GetConfigDir(), "conversations.db")
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 120
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = 60
	}
	if c.MaxLoopIterations <= 0 {
		c.MaxLoopIterations = 24
	}
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (got %d)", c.Port)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ShellTimeoutSeconds > 600 {
		return fmt.Errorf("shell_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShellTimeout exposes the configured duration for workspace shell commands.
func (c Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// Save writes the config back to the user's config file. Used when the API
// key is updated over the control API.
func Save(c Config, path string) error {
	if path == "" {
		path = filepath.Join(GetConfigDir(), "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func GetConfigDir() string {
	if dir := os.Getenv("AGD_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agd"
	}
	return filepath.Join(home, ".agd")
}
