// Package config provides ipcbus configuration loaded from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/chanlink/comms-ipc/pkg/commsbus"
)

const logPrefix = "config:LoadConfig"

// Config holds ipcbus configuration.
type Config struct {
	// COMMS: connect to a broker at COMMSURL.
	COMMSURL       string        `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName      string        `envconfig:"SERVICE_NAME" default:"ipcbus"`
	ConnectTimeout time.Duration `envconfig:"COMMS_CONNECT_TIMEOUT" default:"10s"`
	ReconnectWait  time.Duration `envconfig:"COMMS_RECONNECT_WAIT" default:"2s"`
	MaxReconnects  int           `envconfig:"COMMS_MAX_RECONNECTS" default:"60"`

	// IPC
	Channel        string        `envconfig:"IPC_CHANNEL" default:"ipc.bus.v1"`
	Identity       string        `envconfig:"IPC_IDENTITY"`
	RequestTimeout time.Duration `envconfig:"IPC_REQUEST_TIMEOUT" default:"5s"`

	// Embedded broker (single-binary deployments)
	Embedded     bool   `envconfig:"IPC_EMBEDDED_SERVER" default:"false"`
	EmbeddedHost string `envconfig:"IPC_EMBEDDED_HOST" default:"127.0.0.1"`
	EmbeddedPort int    `envconfig:"IPC_EMBEDDED_PORT" default:"4222"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ConnectOpts returns the broker connection policy for this configuration.
func (c *Config) ConnectOpts() *commsbus.ConnectOpts {
	return &commsbus.ConnectOpts{
		Timeout:       c.ConnectTimeout,
		ReconnectWait: c.ReconnectWait,
		MaxReconnects: c.MaxReconnects,
	}
}

// Validate checks required configuration for running the listener.
func (c *Config) Validate() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required", logPrefix)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%s - COMMS_CONNECT_TIMEOUT must be positive", logPrefix)
	}
	if c.ReconnectWait <= 0 {
		return fmt.Errorf("%s - COMMS_RECONNECT_WAIT must be positive", logPrefix)
	}
	if c.Channel == "" {
		return fmt.Errorf("%s - IPC_CHANNEL is required", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - IPC_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.Embedded && (c.EmbeddedPort <= 0 || c.EmbeddedPort > 65535) {
		return fmt.Errorf("%s - IPC_EMBEDDED_PORT must be a valid port", logPrefix)
	}
	return nil
}
