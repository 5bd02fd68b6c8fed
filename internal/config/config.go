// Package config loads daemon configuration from the environment. A
// .env file in the working directory is folded in first when present,
// so development setups need no exported variables.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Chatroom configures a chatroom instance daemon.
type Chatroom struct {
	// ListenAddress is advertised verbatim to discovery, so it must be
	// a numeric IPv4 ip:port, not a bare port.
	ListenAddress    string  `env:"LISTEN_ADDRESS,required"`
	DiscoveryAddress string  `env:"DISCOVERY_ADDRESS,required"`
	DatabaseURL      string  `env:"DATABASE_URL"`
	LogLevel         string  `env:"LOG_LEVEL" envDefault:"info"`
	ConnRate         float64 `env:"WS_CONN_RATE" envDefault:"50"`
	ConnBurst        int     `env:"WS_CONN_BURST" envDefault:"100"`
}

// Discovery configures the discovery daemon.
type Discovery struct {
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0:8081"`
	ScyllaURL     string `env:"SCYLLA_URL"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// Gateway configures the search gateway daemon.
type Gateway struct {
	ListenAddress    string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0:8080"`
	DiscoveryAddress string `env:"DISCOVERY_ADDRESS,required"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadChatroom reads and validates instance configuration.
func LoadChatroom() (*Chatroom, error) {
	loadDotenv()
	cfg := &Chatroom{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDiscovery reads and validates discovery configuration.
func LoadDiscovery() (*Discovery, error) {
	loadDotenv()
	cfg := &Discovery{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGateway reads and validates gateway configuration.
func LoadGateway() (*Gateway, error) {
	loadDotenv()
	cfg := &Gateway{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded")
	}
}

// Validate checks the instance configuration.
func (c *Chatroom) Validate() error {
	if err := validateAdvertisedAddress(c.ListenAddress); err != nil {
		return fmt.Errorf("LISTEN_ADDRESS: %w", err)
	}
	if err := validateBaseURL(c.DiscoveryAddress); err != nil {
		return fmt.Errorf("DISCOVERY_ADDRESS: %w", err)
	}
	if c.ConnRate <= 0 {
		return fmt.Errorf("WS_CONN_RATE must be > 0, got %g", c.ConnRate)
	}
	if c.ConnBurst < 1 {
		return fmt.Errorf("WS_CONN_BURST must be >= 1, got %d", c.ConnBurst)
	}
	return validateLogLevel(c.LogLevel)
}

// Validate checks the discovery configuration.
func (c *Discovery) Validate() error {
	if err := validateBindAddress(c.ListenAddress); err != nil {
		return fmt.Errorf("LISTEN_ADDRESS: %w", err)
	}
	return validateLogLevel(c.LogLevel)
}

// Validate checks the gateway configuration.
func (c *Gateway) Validate() error {
	if err := validateBindAddress(c.ListenAddress); err != nil {
		return fmt.Errorf("LISTEN_ADDRESS: %w", err)
	}
	if err := validateBaseURL(c.DiscoveryAddress); err != nil {
		return fmt.Errorf("DISCOVERY_ADDRESS: %w", err)
	}
	return validateLogLevel(c.LogLevel)
}

// validateAdvertisedAddress requires a numeric IPv4 ip:port.
func validateAdvertisedAddress(addr string) error {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return fmt.Errorf("want numeric ip:port, got %q: %w", addr, err)
	}
	if !ap.Addr().Is4() {
		return fmt.Errorf("want an IPv4 address, got %q", addr)
	}
	if ap.Port() == 0 {
		return fmt.Errorf("port must be non-zero in %q", addr)
	}
	return nil
}

// validateBindAddress accepts anything net.Listen would, including a
// bare ":port".
func validateBindAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("want host:port, got %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("port is required in %q", addr)
	}
	return nil
}

// validateBaseURL requires an absolute http(s) URL without trailing slash
// noise; paths like /register are appended verbatim by the clients.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("want absolute URL, got %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("want http or https URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required in %q", raw)
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn, or error, got %q", level)
	}
}

// SlogLevel maps a validated log level to its slog value.
func SlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
