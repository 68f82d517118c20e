// Package config provides hierarchical configuration loading for the bridge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for one bridge instance.
type Config struct {
	Server     Server     `yaml:"server"`
	Auth       Auth       `yaml:"auth"`
	Bus        Bus        `yaml:"bus"`
	Platform   Platform   `yaml:"platform"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Directory  Directory  `yaml:"directory"`
	Logging    Logging    `yaml:"logging"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Auth holds service-to-service token and webhook secret configuration.
type Auth struct {
	ServiceName   string        `yaml:"service_name"`
	ServiceSecret string        `yaml:"service_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	WebhookSalt   string        `yaml:"webhook_salt"`
}

// Bus holds event bus configuration.
type Bus struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// Platform selects and configures the external platform flavor.
type Platform struct {
	// Kind is "botapi" (webhook bridge) or "socket" (persistent-socket bridge).
	Kind string `yaml:"kind"`
	// Name prefixes the bus topics, e.g. "telegram" → "telegram.incoming".
	Name string `yaml:"name"`
	// APIBaseURL is the bot API origin (botapi only).
	APIBaseURL string `yaml:"api_base_url"`
	// PublicDomain is the public base for webhook callback URLs (botapi only).
	PublicDomain string `yaml:"public_domain"`
	// GatewayURL is the chat gateway websocket endpoint (socket only).
	GatewayURL string `yaml:"gateway_url"`
	// SessionDir holds per-tenant session artifacts (socket only).
	SessionDir string `yaml:"session_dir"`
	// ReconnectDelay is the fixed backoff before a reconnect attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnects caps consecutive reconnect attempts per tenant.
	MaxReconnects int `yaml:"max_reconnects"`
}

// Dispatcher holds outgoing consumer loop configuration.
type Dispatcher struct {
	Group         string        `yaml:"group"`
	BatchSize     int           `yaml:"batch_size"`
	PollWait      time.Duration `yaml:"poll_wait"`
	MaxDeliveries uint64        `yaml:"max_deliveries"`
}

// Directory holds the upstream platform-registry endpoint.
type Directory struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Telemetry holds OpenTelemetry exporter configuration. An empty endpoint
// disables export.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Topics are the bus subjects for one platform, derived from its name.
type Topics struct {
	Incoming   string
	Outgoing   string
	DeadLetter string
	Status     string
	QR         string
}

// TopicsFor derives the topic set for a platform name.
func TopicsFor(name string) Topics {
	return Topics{
		Incoming:   name + ".incoming",
		Outgoing:   name + ".outgoing",
		DeadLetter: name + ".outgoing.dlq",
		Status:     name + ".status",
		QR:         name + ".qr",
	}
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "3001",
		},
		Auth: Auth{
			ServiceName: "telegram-bridge",
			TokenTTL:    60 * time.Second,
		},
		Bus: Bus{
			URL:    "nats://localhost:4222",
			Stream: "BRIDGE",
		},
		Platform: Platform{
			Kind:           "botapi",
			Name:           "telegram",
			APIBaseURL:     "https://api.telegram.org",
			SessionDir:     "sessions",
			ReconnectDelay: 2 * time.Second,
			MaxReconnects:  3,
		},
		Dispatcher: Dispatcher{
			Group:         "telegram-bridge-group",
			BatchSize:     10,
			PollWait:      2 * time.Second,
			MaxDeliveries: 5,
		},
		Logging: Logging{
			Level:   "info",
			Service: "telegram-bridge",
		},
	}
}
