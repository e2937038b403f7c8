// Package config holds the TOML configuration for the tiny POP3 server.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// POP3Config holds the POP3 listener configuration.
type POP3Config struct {
	Addr        string `toml:"addr"`         // host:port to listen on
	Banner      string `toml:"banner"`       // greeting text after the +OK marker
	IdleTimeout string `toml:"idle_timeout"` // maximum idle time before disconnection
}

// GetIdleTimeout parses the idle timeout duration for POP3 sessions.
func (c *POP3Config) GetIdleTimeout() (time.Duration, error) {
	if c.IdleTimeout == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(c.IdleTimeout)
}

// AuthConfig holds the single credential pair accepted by the server.
// The password may be given in plaintext or as a bcrypt hash
// ("{BLF-CRYPT}..." or a raw "$2a$"/"$2b$"/"$2y$" string).
type AuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AdminConfig holds the admin HTTP API configuration. The admin API
// replaces the mailbox-editor GUI: it adds and imports messages, lists
// mailbox contents, and exposes the protocol trace.
type AdminConfig struct {
	Start  bool   `toml:"start"`
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"` // empty disables authentication (development default)
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	POP3    POP3Config    `toml:"pop3"`
	Auth    AuthConfig    `toml:"auth"`
	Admin   AdminConfig   `toml:"admin"`
}

// NewDefaultConfig creates a Config with the fixed development defaults
// (127.0.0.1:12340, credentials user/pass).
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		POP3: POP3Config{
			Addr:        "127.0.0.1:12340",
			Banner:      "POP3 server ready",
			IdleTimeout: "5m",
		},
		Auth: AuthConfig{
			Username: "user",
			Password: "pass",
		},
		Admin: AdminConfig{
			Start:  true,
			Addr:   "127.0.0.1:12380",
			APIKey: "",
		},
	}
}

// LoadConfigFromFile decodes a TOML file over cfg. Unknown keys are
// reported but do not fail the load, so stale settings only warn.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file '%s': %w", configPath, err)
	}

	if len(metadata.Undecoded()) > 0 {
		fmt.Fprintf(os.Stderr, "WARNING: configuration file '%s' contains unknown keys that will be ignored:\n", configPath)
		for _, key := range metadata.Undecoded() {
			fmt.Fprintf(os.Stderr, "WARNING:   - %s\n", key)
		}
	}

	return nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	if c.POP3.Addr == "" {
		return fmt.Errorf("pop3.addr must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.POP3.Addr); err != nil {
		return fmt.Errorf("pop3.addr %q is not a valid host:port: %w", c.POP3.Addr, err)
	}
	if _, err := c.POP3.GetIdleTimeout(); err != nil {
		return fmt.Errorf("pop3.idle_timeout is not a valid duration: %w", err)
	}
	if c.Auth.Username == "" {
		return fmt.Errorf("auth.username must not be empty")
	}
	if c.Auth.Password == "" {
		return fmt.Errorf("auth.password must not be empty")
	}
	if c.Admin.Start {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			return fmt.Errorf("admin.addr %q is not a valid host:port: %w", c.Admin.Addr, err)
		}
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}
