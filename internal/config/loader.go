package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "bridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Auth.ServiceName, "SERVICE_NAME")
	setString(&cfg.Auth.ServiceSecret, "JWT_SERVICE_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "BRIDGE_TOKEN_TTL")
	setString(&cfg.Auth.WebhookSalt, "WEBHOOK_SECRET_SALT")
	setString(&cfg.Bus.URL, "NATS_URL")
	setString(&cfg.Bus.Stream, "BRIDGE_STREAM")
	setString(&cfg.Platform.Kind, "BRIDGE_PLATFORM_KIND")
	setString(&cfg.Platform.Name, "BRIDGE_PLATFORM_NAME")
	setString(&cfg.Platform.APIBaseURL, "BRIDGE_API_BASE_URL")
	setString(&cfg.Platform.PublicDomain, "PUBLIC_DOMAIN")
	setString(&cfg.Platform.GatewayURL, "BRIDGE_GATEWAY_URL")
	setString(&cfg.Platform.SessionDir, "BRIDGE_SESSION_DIR")
	setDuration(&cfg.Platform.ReconnectDelay, "BRIDGE_RECONNECT_DELAY")
	setInt(&cfg.Platform.MaxReconnects, "BRIDGE_MAX_RECONNECTS")
	setString(&cfg.Dispatcher.Group, "BRIDGE_CONSUMER_GROUP")
	setInt(&cfg.Dispatcher.BatchSize, "BRIDGE_BATCH_SIZE")
	setDuration(&cfg.Dispatcher.PollWait, "BRIDGE_POLL_WAIT")
	setUint64(&cfg.Dispatcher.MaxDeliveries, "BRIDGE_MAX_DELIVERIES")
	setString(&cfg.Directory.URL, "PLATFORM_SERVICE_URL")
	setString(&cfg.Logging.Level, "BRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BRIDGE_LOG_SERVICE")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Bus.URL == "" {
		return errors.New("bus.url is required")
	}
	if cfg.Auth.ServiceSecret == "" {
		return errors.New("auth.service_secret is required")
	}
	if cfg.Dispatcher.Group == "" {
		return errors.New("dispatcher.group is required")
	}
	if cfg.Dispatcher.BatchSize < 1 {
		return errors.New("dispatcher.batch_size must be >= 1")
	}
	switch cfg.Platform.Kind {
	case "botapi":
		if cfg.Auth.WebhookSalt == "" {
			return errors.New("auth.webhook_salt is required for botapi platforms")
		}
		if cfg.Platform.PublicDomain == "" {
			return errors.New("platform.public_domain is required for botapi platforms")
		}
	case "socket":
		if cfg.Platform.GatewayURL == "" {
			return errors.New("platform.gateway_url is required for socket platforms")
		}
	default:
		return fmt.Errorf("platform.kind must be botapi or socket, got %q", cfg.Platform.Kind)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
