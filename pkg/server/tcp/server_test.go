// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/parser"
	httpparser "github.com/absmach/sockparse/pkg/parser/http"
	"github.com/absmach/sockparse/pkg/parser/mqtt"
	"github.com/absmach/sockparse/pkg/ratelimit"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

type stubParser struct {
	fed     bytes.Buffer
	reply   []byte
	feedErr error
	closed  atomic.Int32
}

func (p *stubParser) Feed(ctx context.Context, b []byte) error {
	p.fed.Write(b)
	return p.feedErr
}

func (p *stubParser) WriteTo(w io.Writer) (int64, error) {
	if len(p.reply) == 0 {
		return 0, nil
	}
	n, err := w.Write(p.reply)
	p.reply = p.reply[n:]
	return int64(n), err
}

func (p *stubParser) Close() error {
	p.closed.Add(1)
	return nil
}

type countingHandler struct {
	handler.NoopHandler
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (h *countingHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.connects.Add(1)
	return nil
}

func (h *countingHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	h.disconnects.Add(1)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start serves f on an ephemeral port and returns its address and a stop
// function returning the Serve error.
func start(t *testing.T, cfg Config, f parser.Factory) (string, func() error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	server := New(cfg, f)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(ctx, listener)
	}()

	stop := func() error {
		cancel()
		select {
		case err := <-serverErr:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Server shutdown timeout")
			return nil
		}
	}
	return listener.Addr().String(), stop
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	return conn
}

func TestTCPServer_MQTTSession(t *testing.T) {
	h := &countingHandler{}
	var hctxs []*handler.Context
	factory := mqtt.NewFactory(mqtt.Config{}, h, nil, nil)
	addr, stop := start(t, Config{Protocol: "mqtt"}, func(hctx *handler.Context) parser.Parser {
		hctxs = append(hctxs, hctx)
		return factory(hctx)
	})

	conn := dial(t, addr)
	defer conn.Close()

	connect := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	connect.ProtocolName = "MQTT"
	connect.ProtocolVersion = 4
	connect.CleanSession = true
	connect.ClientIdentifier = "tcp-client"
	connect.Keepalive = 30
	if err := connect.Write(conn); err != nil {
		t.Fatalf("Failed to write CONNECT: %v", err)
	}

	cp, err := packets.ReadPacket(conn)
	if err != nil {
		t.Fatalf("Failed to read CONNACK: %v", err)
	}
	ack, ok := cp.(*packets.ConnackPacket)
	if !ok {
		t.Fatalf("Expected CONNACK, got %s", cp.String())
	}
	if ack.ReturnCode != packets.Accepted {
		t.Errorf("Expected return code 0, got %d", ack.ReturnCode)
	}

	if err := packets.NewControlPacket(packets.Disconnect).Write(conn); err != nil {
		t.Fatalf("Failed to write DISCONNECT: %v", err)
	}
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected server to close after DISCONNECT, got %v", err)
	}

	if err := stop(); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if h.connects.Load() != 1 {
		t.Errorf("Expected 1 OnConnect, got %d", h.connects.Load())
	}
	if h.disconnects.Load() != 1 {
		t.Errorf("Expected 1 OnDisconnect, got %d", h.disconnects.Load())
	}
	if len(hctxs) != 1 || hctxs[0].SessionID == "" || hctxs[0].Protocol != "mqtt" {
		t.Errorf("Expected one mqtt context with a session ID, got %+v", hctxs)
	}
}

func TestTCPServer_HTTPConnectionClose(t *testing.T) {
	h := &countingHandler{}
	addr, stop := start(t, Config{Protocol: "http", ReadBufferSize: 7},
		httpparser.NewFactory(httpparser.Config{}, h, nil, nil))

	conn := dial(t, addr)
	defer conn.Close()

	req := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		t.Fatalf("Failed to write requests: %v", err)
	}

	n, err := conn.Read(make([]byte, 16))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Expected close without response bytes, got n=%d err=%v", n, err)
	}

	if err := stop(); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if h.connects.Load() != 2 {
		t.Errorf("Expected 2 OnConnect calls, got %d", h.connects.Load())
	}
	if h.disconnects.Load() != 1 {
		t.Errorf("Expected 1 OnDisconnect, got %d", h.disconnects.Load())
	}
}

func TestTCPServer_FeedErrorFlushesReplies(t *testing.T) {
	p := &stubParser{reply: []byte("bye"), feedErr: errors.New("boom")}
	addr, stop := start(t, Config{Protocol: "test"}, func(hctx *handler.Context) parser.Parser {
		return p
	})

	conn := dial(t, addr)
	defer conn.Close()

	if _, err := io.WriteString(conn, "x"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if string(got) != "bye" {
		t.Errorf("Expected 'bye', got '%s'", got)
	}

	if err := stop(); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if p.fed.String() != "x" {
		t.Errorf("Expected parser to be fed 'x', got '%s'", p.fed.String())
	}
	if p.closed.Load() != 1 {
		t.Errorf("Expected Close to run once, got %d", p.closed.Load())
	}
}

func TestTCPServer_ShutdownTimeout(t *testing.T) {
	accepted := make(chan struct{})
	p := &stubParser{}
	addr, stop := start(t, Config{Protocol: "test", ShutdownTimeout: 50 * time.Millisecond},
		func(hctx *handler.Context) parser.Parser {
			close(accepted)
			return p
		})

	conn := dial(t, addr)
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("Connection was not accepted")
	}

	if err := stop(); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Expected ErrShutdownTimeout, got %v", err)
	}
	if p.closed.Load() != 1 {
		t.Errorf("Expected forced close to release the parser, got %d", p.closed.Load())
	}
}

func TestTCPServer_RateLimit(t *testing.T) {
	var parsers atomic.Int32
	addr, stop := start(t, Config{Protocol: "test", Limiter: ratelimit.New(0.001, 1)},
		func(hctx *handler.Context) parser.Parser {
			parsers.Add(1)
			return &stubParser{}
		})

	first := dial(t, addr)
	defer first.Close()

	second := dial(t, addr)
	defer second.Close()
	if _, err := second.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("Expected limited connection to be closed, got %v", err)
	}

	first.Close()
	if err := stop(); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if parsers.Load() != 1 {
		t.Errorf("Expected 1 parser, got %d", parsers.Load())
	}
}

func TestTCPServer_InvalidAddress(t *testing.T) {
	cfg := Config{
		Address: "invalid:address:99999",
		Logger:  testLogger(),
	}

	server := New(cfg, nil)
	if err := server.Listen(context.Background()); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	server := New(Config{Address: "localhost:0"}, nil)

	if server.config.Logger == nil {
		t.Error("Expected default logger to be set")
	}
	if server.config.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", server.config.ShutdownTimeout)
	}
	if server.config.ReadBufferSize != 4096 {
		t.Errorf("Expected default read buffer 4096, got %d", server.config.ReadBufferSize)
	}
}
