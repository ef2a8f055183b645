// Package config loads the agent configuration from a YAML or JSONC file
// and the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	lokihandler "github.com/xente/loki-logger-handler"
	"github.com/xente/loki-logger-handler/internal/daemon"
)

type Config struct {
	Loki  LokiConfig  `yaml:"loki" json:"loki"`
	Agent AgentConfig `yaml:"agent" json:"agent"`
}

type LokiConfig struct {
	URL                string            `yaml:"url" json:"url"`
	Labels             map[string]string `yaml:"labels" json:"labels"`
	LabelKeys          []string          `yaml:"label_keys" json:"label_keys"`
	Headers            map[string]string `yaml:"headers" json:"headers"`
	Username           string            `yaml:"username" json:"username"`
	Password           string            `yaml:"password" json:"password"`
	JSONLines          bool              `yaml:"json_lines" json:"json_lines"`
	Compressed         bool              `yaml:"compressed" json:"compressed"`
	FlushInterval      Duration          `yaml:"flush_interval" json:"flush_interval"`
	RequestTimeout     Duration          `yaml:"request_timeout" json:"request_timeout"`
	StructuredMetadata bool              `yaml:"structured_metadata" json:"structured_metadata"`
	Metadata           map[string]string `yaml:"metadata" json:"metadata"`
	MetadataKeys       []string          `yaml:"metadata_keys" json:"metadata_keys"`
	SelfErrors         bool              `yaml:"self_errors" json:"self_errors"`
}

type AgentConfig struct {
	LogPath         string   `yaml:"log_path" json:"log_path"`
	NodeName        string   `yaml:"node_name" json:"node_name"`
	Workers         int      `yaml:"workers" json:"workers"`
	QueueSize       int      `yaml:"queue_size" json:"queue_size"`
	ScanInterval    Duration `yaml:"scan_interval" json:"scan_interval"`
	IdleTimeout     Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MetricsInterval Duration `yaml:"metrics_interval" json:"metrics_interval"`
	ReadFromStart   bool     `yaml:"read_from_start" json:"read_from_start"`
	Poll            bool     `yaml:"poll" json:"poll"`
	LogLevel        string   `yaml:"log_level" json:"log_level"`
}

func Default() *Config {
	return &Config{
		Loki: LokiConfig{
			URL:            "http://loki:3100/loki/api/v1/push",
			Labels:         map[string]string{"job": "loki-agent"},
			LabelKeys:      []string{"namespace", "pod", "container", "level"},
			JSONLines:      true,
			Compressed:     true,
			FlushInterval:  Duration(5 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
		},
		Agent: AgentConfig{
			LogPath:         "/var/log/pods",
			NodeName:        "unknown",
			Workers:         10,
			QueueSize:       50,
			ScanInterval:    Duration(30 * time.Second),
			IdleTimeout:     Duration(5 * time.Minute),
			MetricsInterval: Duration(30 * time.Second),
			LogLevel:        "info",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return fmt.Errorf("%s: unsupported config format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with the agent's environment variables.
// Values that do not parse are ignored.
func (c *Config) applyEnv(getenv func(string) string) {
	setString(getenv, "LOKI_URL", &c.Loki.URL)
	setString(getenv, "LOKI_USERNAME", &c.Loki.Username)
	setString(getenv, "LOKI_PASSWORD", &c.Loki.Password)
	setDuration(getenv, "FLUSH_INTERVAL", &c.Loki.FlushInterval)
	setString(getenv, "LOG_PATH", &c.Agent.LogPath)
	setString(getenv, "NODE_NAME", &c.Agent.NodeName)
	setInt(getenv, "WORKERS", &c.Agent.Workers)
	setDuration(getenv, "SCAN_INTERVAL", &c.Agent.ScanInterval)
}

func (c *Config) Validate() error {
	switch {
	case c.Loki.URL == "":
		return &lokihandler.ConfigurationError{Field: "loki.url", Reason: "must not be empty"}
	case c.Agent.LogPath == "":
		return &lokihandler.ConfigurationError{Field: "agent.log_path", Reason: "must not be empty"}
	case c.Agent.Workers <= 0:
		return &lokihandler.ConfigurationError{Field: "agent.workers", Reason: "must be positive"}
	case c.Agent.QueueSize <= 0:
		return &lokihandler.ConfigurationError{Field: "agent.queue_size", Reason: "must be positive"}
	}
	return nil
}

// HandlerConfig converts the loki section into the handler configuration.
func (c *Config) HandlerConfig() lokihandler.Config {
	hc := lokihandler.DefaultConfig(c.Loki.URL, c.Loki.Labels)
	hc.LabelKeys = c.Loki.LabelKeys
	hc.AdditionalHeaders = c.Loki.Headers
	hc.Username = c.Loki.Username
	hc.Password = c.Loki.Password
	hc.MessageInJSONFormat = c.Loki.JSONLines
	hc.Compressed = c.Loki.Compressed
	hc.FlushInterval = time.Duration(c.Loki.FlushInterval)
	hc.RequestTimeout = time.Duration(c.Loki.RequestTimeout)
	hc.EnableStructuredMetadata = c.Loki.StructuredMetadata
	hc.MetadataKeys = c.Loki.MetadataKeys
	hc.EnableSelfErrors = c.Loki.SelfErrors
	if len(c.Loki.Metadata) > 0 {
		hc.Metadata = make(map[string]any, len(c.Loki.Metadata))
		for k, v := range c.Loki.Metadata {
			hc.Metadata[k] = v
		}
	}
	return hc
}

// DaemonConfig converts the agent section into the tailing service
// configuration.
func (c *Config) DaemonConfig() daemon.Config {
	return daemon.Config{
		LogRootPath:     c.Agent.LogPath,
		ScanInterval:    time.Duration(c.Agent.ScanInterval),
		Workers:         c.Agent.Workers,
		FileQueueSize:   c.Agent.QueueSize,
		NodeName:        c.Agent.NodeName,
		FileIdleTimeout: time.Duration(c.Agent.IdleTimeout),
		MetricsInterval: time.Duration(c.Agent.MetricsInterval),
		ReadFromStart:   c.Agent.ReadFromStart,
		Poll:            c.Agent.Poll,
	}
}

func setString(getenv func(string) string, key string, dst *string) {
	if value := getenv(key); value != "" {
		*dst = value
	}
}

func setInt(getenv func(string) string, key string, dst *int) {
	if value := getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			*dst = result
		}
	}
}

func setDuration(getenv func(string) string, key string, dst *Duration) {
	if value := getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			*dst = Duration(result)
		}
	}
}
