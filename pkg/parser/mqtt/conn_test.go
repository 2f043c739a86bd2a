// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/metrics"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockHandler struct {
	connectErr   error
	publishErr   error
	subscribeErr error
	// deny is removed from the topic list by AuthSubscribe.
	deny string

	connectCalled    int
	onConnectCalled  int
	disconnectCalled int

	lastHctx    handler.Context
	lastTopic   string
	lastPayload []byte
	subscribed  []string
	unsubscribe []string
}

func (m *mockHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	m.connectCalled++
	m.lastHctx = *hctx
	return m.connectErr
}

func (m *mockHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	return m.publishErr
}

func (m *mockHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	*topics = slices.DeleteFunc(*topics, func(t string) bool { return t == m.deny })
	return m.subscribeErr
}

func (m *mockHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	m.onConnectCalled++
	return nil
}

func (m *mockHandler) OnPublish(ctx context.Context, hctx *handler.Context, topic string, payload []byte) error {
	m.lastTopic = topic
	m.lastPayload = bytes.Clone(payload)
	return nil
}

func (m *mockHandler) OnSubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	m.subscribed = topics
	return nil
}

func (m *mockHandler) OnUnsubscribe(ctx context.Context, hctx *handler.Context, topics []string) error {
	m.unsubscribe = topics
	return nil
}

func (m *mockHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	m.disconnectCalled++
	return errors.New("ignored")
}

// replies drains c and decodes the frames with paho.
func replies(t *testing.T, c *Conn) []packets.ControlPacket {
	t.Helper()
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	var out []packets.ControlPacket
	for buf.Len() > 0 {
		cp, err := packets.ReadPacket(&buf)
		if err != nil {
			t.Fatalf("ReadPacket() error = %v", err)
		}
		out = append(out, cp)
	}
	return out
}

func connectFrame(t *testing.T) []byte {
	p := connectPacket("client-1")
	p.UsernameFlag = true
	p.Username = "user"
	p.PasswordFlag = true
	p.Password = []byte("secret")
	return encode(t, p)
}

func newConnected(t *testing.T, mock *mockHandler, m *metrics.Metrics) *Conn {
	t.Helper()
	c := NewConn(Config{}, mock, &handler.Context{SessionID: "s1"}, m, nil)
	if err := c.Feed(context.Background(), connectFrame(t)); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	return c
}

func TestConn_Connect(t *testing.T) {
	mock := &mockHandler{}
	c := newConnected(t, mock, nil)

	if mock.connectCalled != 1 || mock.onConnectCalled != 1 {
		t.Errorf("Expected AuthConnect and OnConnect once, got %d and %d", mock.connectCalled, mock.onConnectCalled)
	}
	h := mock.lastHctx
	if h.Protocol != "mqtt" || h.ClientID != "client-1" || h.Username != "user" || string(h.Password) != "secret" {
		t.Errorf("Unexpected handler context: %+v", h)
	}

	out := replies(t, c)
	if len(out) != 1 {
		t.Fatalf("Expected one reply, got %d", len(out))
	}
	ack, ok := out[0].(*packets.ConnackPacket)
	if !ok || ack.ReturnCode != packets.Accepted {
		t.Errorf("Expected accepted CONNACK, got %v", out[0])
	}
}

func TestConn_ConnectRejected(t *testing.T) {
	mock := &mockHandler{connectErr: errors.New("bad credentials")}
	c := NewConn(Config{}, mock, &handler.Context{}, nil, nil)

	err := c.Feed(context.Background(), connectFrame(t))
	if perrors.Classify(err) != perrors.ClassCallback {
		t.Fatalf("Expected callback error, got %v", err)
	}
	out := replies(t, c)
	if len(out) != 1 {
		t.Fatalf("Expected one reply, got %d", len(out))
	}
	if ack, ok := out[0].(*packets.ConnackPacket); !ok || ack.ReturnCode != packets.ErrRefusedNotAuthorised {
		t.Errorf("Expected CONNACK 5, got %v", out[0])
	}
	if mock.onConnectCalled != 0 {
		t.Error("Expected no OnConnect after rejection")
	}
}

func TestConn_EmptyClientID(t *testing.T) {
	p := connectPacket("")
	p.CleanSession = false

	mock := &mockHandler{}
	c := NewConn(Config{}, mock, &handler.Context{}, nil, nil)
	if err := c.Feed(context.Background(), encode(t, p)); !errors.Is(err, perrors.ErrInvalidInput) {
		t.Fatalf("Expected ErrInvalidInput, got %v", err)
	}
	out := replies(t, c)
	if ack, ok := out[0].(*packets.ConnackPacket); !ok || ack.ReturnCode != packets.ErrRefusedIDRejected {
		t.Errorf("Expected CONNACK 2, got %v", out[0])
	}
	if mock.connectCalled != 0 {
		t.Error("Expected no AuthConnect for a rejected identifier")
	}
}

func TestConn_PublishAcks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	mock := &mockHandler{}
	c := newConnected(t, mock, m)
	replies(t, c)

	pubrel := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
	pubrel.MessageID = 12
	pubrec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
	pubrec.MessageID = 13

	var in []byte
	in = append(in, encode(t, publishPacket("t/0", 0, 0, "zero"))...)
	in = append(in, encode(t, publishPacket("t/1", 1, 11, "one"))...)
	in = append(in, encode(t, publishPacket("t/2", 2, 12, "two"))...)
	in = append(in, encode(t, pubrel)...)
	in = append(in, encode(t, pubrec)...)
	in = append(in, encode(t, packets.NewControlPacket(packets.Pingreq))...)

	// Byte by byte to exercise dispatch across Feed calls.
	for i := range in {
		if err := c.Feed(context.Background(), in[i:i+1]); err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
	}

	if mock.lastTopic != "t/2" || string(mock.lastPayload) != "two" {
		t.Errorf("Expected last publish t/2 'two', got %s '%s'", mock.lastTopic, mock.lastPayload)
	}

	out := replies(t, c)
	if len(out) != 5 {
		t.Fatalf("Expected 5 replies, got %d: %v", len(out), out)
	}
	if p, ok := out[0].(*packets.PubackPacket); !ok || p.MessageID != 11 {
		t.Errorf("Expected PUBACK 11, got %v", out[0])
	}
	if p, ok := out[1].(*packets.PubrecPacket); !ok || p.MessageID != 12 {
		t.Errorf("Expected PUBREC 12, got %v", out[1])
	}
	if p, ok := out[2].(*packets.PubcompPacket); !ok || p.MessageID != 12 {
		t.Errorf("Expected PUBCOMP 12, got %v", out[2])
	}
	if p, ok := out[3].(*packets.PubrelPacket); !ok || p.MessageID != 13 {
		t.Errorf("Expected PUBREL 13, got %v", out[3])
	}
	if _, ok := out[4].(*packets.PingrespPacket); !ok {
		t.Errorf("Expected PINGRESP, got %v", out[4])
	}

	if got := testutil.ToFloat64(m.MQTTPackets.WithLabelValues("PUBLISH", "inbound")); got != 3 {
		t.Errorf("Expected 3 inbound PUBLISH, got %v", got)
	}
	if got := testutil.ToFloat64(m.MQTTPackets.WithLabelValues("PUBACK", "outbound")); got != 1 {
		t.Errorf("Expected 1 outbound PUBACK, got %v", got)
	}
}

func TestConn_PublishRejected(t *testing.T) {
	mock := &mockHandler{publishErr: errors.New("forbidden")}
	c := newConnected(t, mock, nil)

	err := c.Feed(context.Background(), encode(t, publishPacket("t", 1, 1, "x")))
	if !errors.Is(err, perrors.ErrCallback) {
		t.Fatalf("Expected callback error, got %v", err)
	}
	if mock.lastTopic != "" {
		t.Errorf("Expected no OnPublish, got %s", mock.lastTopic)
	}
}

func TestConn_Subscribe(t *testing.T) {
	mock := &mockHandler{deny: "private/#"}
	c := newConnected(t, mock, nil)
	replies(t, c)

	sub := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	sub.MessageID = 7
	sub.Topics = []string{"public/#", "private/#", "other"}
	sub.Qoss = []byte{1, 1, 2}
	unsub := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	unsub.MessageID = 8
	unsub.Topics = []string{"public/#"}

	if err := c.Feed(context.Background(), append(encode(t, sub), encode(t, unsub)...)); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}

	if !slices.Equal(mock.subscribed, []string{"public/#", "other"}) {
		t.Errorf("Expected OnSubscribe with allowed topics, got %v", mock.subscribed)
	}
	if !slices.Equal(mock.unsubscribe, []string{"public/#"}) {
		t.Errorf("Expected OnUnsubscribe with public/#, got %v", mock.unsubscribe)
	}

	out := replies(t, c)
	if len(out) != 2 {
		t.Fatalf("Expected 2 replies, got %d", len(out))
	}
	ack, ok := out[0].(*packets.SubackPacket)
	if !ok || ack.MessageID != 7 || !bytes.Equal(ack.ReturnCodes, []byte{1, 0x80, 2}) {
		t.Errorf("Expected SUBACK 7 [1 128 2], got %v", out[0])
	}
	if p, ok := out[1].(*packets.UnsubackPacket); !ok || p.MessageID != 8 {
		t.Errorf("Expected UNSUBACK 8, got %v", out[1])
	}
}

func TestConn_Disconnect(t *testing.T) {
	mock := &mockHandler{}
	c := newConnected(t, mock, nil)

	err := c.Feed(context.Background(), encode(t, packets.NewControlPacket(packets.Disconnect)))
	if err != io.EOF {
		t.Fatalf("Expected io.EOF, got %v", err)
	}
	if mock.disconnectCalled != 1 {
		t.Errorf("Expected OnDisconnect once, got %d", mock.disconnectCalled)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if mock.disconnectCalled != 1 {
		t.Errorf("Expected no second OnDisconnect, got %d", mock.disconnectCalled)
	}
}

func TestConn_CloseWithoutDisconnect(t *testing.T) {
	mock := &mockHandler{}
	c := newConnected(t, mock, nil)

	if err := c.Close(); err == nil {
		t.Error("Expected the OnDisconnect error from Close")
	}
	if mock.disconnectCalled != 1 {
		t.Errorf("Expected OnDisconnect once, got %d", mock.disconnectCalled)
	}
	if err := c.Feed(context.Background(), []byte{0xc0, 0x00}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestConn_UnexpectedPacket(t *testing.T) {
	c := newConnected(t, &mockHandler{}, nil)

	err := c.Feed(context.Background(), encode(t, packets.NewControlPacket(packets.Pingresp)))
	if !errors.Is(err, ErrUnexpectedPacket) {
		t.Errorf("Expected ErrUnexpectedPacket, got %v", err)
	}
}
