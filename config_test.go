// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sockparse

import (
	"testing"
	"time"

	"github.com/absmach/sockparse/pkg/parser/mqtt"
	"github.com/caarlos0/env/v11"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Prefix: "SOCKPARSE_TEST_", Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Enabled() {
		t.Error("Expected listener without port to be disabled")
	}
	if cfg.ReadBufferSize != 4096 {
		t.Errorf("Expected read buffer 4096, got %d", cfg.ReadBufferSize)
	}
	if cfg.WorkspaceSize != 8192 {
		t.Errorf("Expected workspace 8192, got %d", cfg.WorkspaceSize)
	}
	if cfg.MaxBodySize != 0 {
		t.Errorf("Expected unlimited body, got %d", cfg.MaxBodySize)
	}
	if cfg.MaxPacketSize != mqtt.MaxPacketSize {
		t.Errorf("Expected max packet size %d, got %d", mqtt.MaxPacketSize, cfg.MaxPacketSize)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Path != "/mqtt" {
		t.Errorf("Expected path '/mqtt', got '%s'", cfg.Path)
	}
}

func TestNewConfig_Prefix(t *testing.T) {
	environ := map[string]string{
		"SOCKPARSE_HTTP_HOST":             "127.0.0.1",
		"SOCKPARSE_HTTP_PORT":             "8080",
		"SOCKPARSE_HTTP_WORKSPACE_SIZE":   "1024",
		"SOCKPARSE_HTTP_MAX_BODY_SIZE":    "65536",
		"SOCKPARSE_HTTP_SHUTDOWN_TIMEOUT": "5s",
		"SOCKPARSE_MQTT_PORT":             "1883",
		"SOCKPARSE_MQTT_MAX_PACKET_SIZE":  "1024",
		"SOCKPARSE_MQTT_RATE_LIMIT":       "2.5",
	}

	httpCfg, err := NewConfig(env.Options{Prefix: "SOCKPARSE_HTTP_", Environment: environ})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !httpCfg.Enabled() || httpCfg.Address() != "127.0.0.1:8080" {
		t.Errorf("Expected enabled listener on 127.0.0.1:8080, got '%s'", httpCfg.Address())
	}
	if hc := httpCfg.HTTP(); hc.WorkspaceSize != 1024 || hc.MaxBodySize != 65536 {
		t.Errorf("Expected HTTP limits 1024/65536, got %+v", hc)
	}
	if httpCfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", httpCfg.ShutdownTimeout)
	}

	mqttCfg, err := NewConfig(env.Options{Prefix: "SOCKPARSE_MQTT_", Environment: environ})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if mqttCfg.Address() != ":1883" {
		t.Errorf("Expected ':1883', got '%s'", mqttCfg.Address())
	}
	if mqttCfg.MQTT().MaxPacketSize != 1024 {
		t.Errorf("Expected max packet size 1024, got %d", mqttCfg.MQTT().MaxPacketSize)
	}
	if mqttCfg.RateLimit != 2.5 {
		t.Errorf("Expected rate limit 2.5, got %v", mqttCfg.RateLimit)
	}
	if mqttCfg.WorkspaceSize != 8192 {
		t.Errorf("Expected other prefixes not to leak, got workspace %d", mqttCfg.WorkspaceSize)
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	environ := map[string]string{"SOCKPARSE_WS_READ_BUFFER_SIZE": "lots"}
	if _, err := NewConfig(env.Options{Prefix: "SOCKPARSE_WS_", Environment: environ}); err == nil {
		t.Error("Expected error for non-numeric buffer size")
	}
}
