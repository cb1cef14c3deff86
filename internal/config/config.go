// Package config loads the service configuration file and resolves secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure of a service file.
var ErrInvalidConfig = errors.New("invalid service config")

var configValidate = validator.New()

// ServiceConfig is the contents of service.yaml.
type ServiceConfig struct {
	Version int `yaml:"version" validate:"eq=1"`
	Service struct {
		Name  string `yaml:"name" validate:"required"`
		Model string `yaml:"model" validate:"required"`
		Watch bool   `yaml:"watch"`
	} `yaml:"service"`
	Network struct {
		HTTPPort int `yaml:"http_port" validate:"gte=0,lte=65535"`
	} `yaml:"network"`
	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Prefix   string `yaml:"prefix" validate:"omitempty,excludesall=#+"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`
	Postgres struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"postgres"`
}

// HTTPPort returns the configured port, defaulting to 8080.
func (c *ServiceConfig) HTTPPort() int {
	if c.Network.HTTPPort == 0 {
		return 8080
	}
	return c.Network.HTTPPort
}

// MQTTPrefix returns the topic prefix, defaulting to "propmodel/<name>".
func (c *ServiceConfig) MQTTPrefix() string {
	if c.MQTT.Prefix != "" {
		return strings.TrimSuffix(c.MQTT.Prefix, "/")
	}
	return "propmodel/" + c.Service.Name
}

// MQTTClientID returns the client id, defaulting to "propmodel-<name>".
func (c *ServiceConfig) MQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "propmodel-" + c.Service.Name
}

// ParseServiceConfig decodes and validates service YAML.
func ParseServiceConfig(b []byte) (*ServiceConfig, error) {
	var cfg ServiceConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version: %d", ErrInvalidConfig, cfg.Version)
	}
	if err := configValidate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// LoadServiceConfig reads service YAML from path. A relative model path is
// resolved against the directory of the config file.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseServiceConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Service.Model = resolveRelative(path, cfg.Service.Model)
	return cfg, nil
}

func resolveRelative(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(base), p)
}

// EnvDuration parses a duration from envName, falling back to def when the
// variable is unset or malformed.
func EnvDuration(envName string, def time.Duration) time.Duration {
	v := os.Getenv(envName)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
