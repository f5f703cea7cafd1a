package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models claimline.yml.
type Config struct {
	Service struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"service"`
	Generator struct {
		Model          string `yaml:"model"`
		BaseURL        string `yaml:"base_url"`
		APIKeyEnv      string `yaml:"api_key_env"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"generator"`
	Review struct {
		HighConfidenceThreshold float64 `yaml:"high_confidence_threshold"`
	} `yaml:"review"`
	Video struct {
		MaxSizeBytes       int64    `yaml:"max_size_bytes"`
		MaxDurationSeconds float64  `yaml:"max_duration_seconds"`
		AllowedFormats     []string `yaml:"allowed_formats"`
	} `yaml:"video"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with cl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if c.Generator.Model == "" {
		return fmt.Errorf("config.generator.model is required")
	}
	if c.Generator.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.generator.timeout_seconds must be positive")
	}
	if c.Review.HighConfidenceThreshold < 0 || c.Review.HighConfidenceThreshold > 1 {
		return fmt.Errorf("config.review.high_confidence_threshold must be within [0,1]")
	}
	if c.Video.MaxSizeBytes <= 0 {
		return fmt.Errorf("config.video.max_size_bytes must be positive")
	}
	if c.Video.MaxDurationSeconds <= 0 {
		return fmt.Errorf("config.video.max_duration_seconds must be positive")
	}
	if len(c.Video.AllowedFormats) == 0 {
		return fmt.Errorf("config.video.allowed_formats is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "claimline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceID string) string {
	return fmt.Sprintf(defaultTemplate, serviceID)
}

// Default returns the default Config struct for a service.
func Default(serviceID string) *Config {
	var cfg Config
	cfg.Service.ID = serviceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  id: %s
  name: Claimline

generator:
  model: gpt-4-turbo-preview
  base_url: https://api.openai.com/v1
  api_key_env: OPENAI_API_KEY
  timeout_seconds: 30

review:
  high_confidence_threshold: 0.8

video:
  max_size_bytes: 104857600
  max_duration_seconds: 300
  allowed_formats: [video/mp4, video/quicktime, video/x-msvideo, video/x-matroska]

auth:
  allow_legacy_actor_header: true
`
