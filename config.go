// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sockparse

import (
	"net"
	"time"

	"github.com/absmach/sockparse/pkg/parser/http"
	"github.com/absmach/sockparse/pkg/parser/mqtt"
	"github.com/caarlos0/env/v11"
)

// Config holds the settings of one listener. Every listener reads its own set of
// variables, selected by the env.Options prefix.
type Config struct {
	Host string `env:"HOST" envDefault:""`
	Port string `env:"PORT" envDefault:""`
	// Path is the upgrade path of WebSocket listeners.
	Path string `env:"PATH" envDefault:"/mqtt"`

	ReadBufferSize  int           `env:"READ_BUFFER_SIZE" envDefault:"4096"`
	WorkspaceSize   int           `env:"WORKSPACE_SIZE"   envDefault:"8192"`
	MaxBodySize     int64         `env:"MAX_BODY_SIZE"    envDefault:"0"`
	MaxPacketSize   int           `env:"MAX_PACKET_SIZE"  envDefault:"268435460"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RateLimit is the number of new connections per second accepted from one
	// remote host. Zero disables limiting.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`
}

// NewConfig parses a Config from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Enabled reports whether the listener has a port configured.
func (c Config) Enabled() bool {
	return c.Port != ""
}

// Address returns the listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// HTTP returns the HTTP parser limits.
func (c Config) HTTP() http.Config {
	return http.Config{
		WorkspaceSize: c.WorkspaceSize,
		MaxBodySize:   c.MaxBodySize,
	}
}

// MQTT returns the MQTT parser limits.
func (c Config) MQTT() mqtt.Config {
	return mqtt.Config{
		MaxPacketSize: c.MaxPacketSize,
	}
}
