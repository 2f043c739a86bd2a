// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"slices"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/absmach/sockparse/pkg/handler"
	"github.com/absmach/sockparse/pkg/metrics"
	"github.com/absmach/sockparse/pkg/parser"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// subackFailure is the SUBACK return code of a rejected topic filter.
const subackFailure = 0x80

// Dispatcher acts on complete frames of a Session: it runs the handler and queues
// the acknowledgements a broker owes the client.
type Dispatcher struct {
	h       handler.Handler
	hctx    *handler.Context
	metrics *metrics.Metrics
	logger  *slog.Logger
	buf     []byte
}

// NewDispatcher returns a Dispatcher reporting to h. m and logger may be nil.
func NewDispatcher(h handler.Handler, hctx *handler.Context, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		h:       h,
		hctx:    hctx,
		metrics: m,
		logger:  logger,
	}
}

// Dispatch handles the complete frame held by s. It returns io.EOF after
// DISCONNECT and an error matching errors.ErrCallback when the handler rejects
// the frame; either way the connection should be closed once the queued frames
// are written.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session) error {
	m := s.Message()
	if !m.Complete() {
		return ErrIncomplete
	}
	d.metrics.MQTTPacket(m.Type.String(), parser.Inbound.String())

	switch m.Type {
	case Connect:
		return d.handleConnect(ctx, s)
	case Publish:
		return d.handlePublish(ctx, s, m)
	case Pubrel:
		return d.sendID(s, Pubcomp, 0, m.PacketID)
	case Pubrec:
		return d.sendID(s, Pubrel, flagsAck, m.PacketID)
	case Puback, Pubcomp:
		return nil
	case Subscribe:
		return d.handleSubscribe(ctx, s, m)
	case Unsubscribe:
		return d.handleUnsubscribe(ctx, s, m)
	case Pingreq:
		return d.send(s, Pingresp, 0, nil)
	case Disconnect:
		if err := d.h.OnDisconnect(ctx, d.hctx); err != nil {
			d.warn("OnDisconnect", err)
		}
		return io.EOF
	default:
		return perrors.New("dispatch", protocol, m.Type.String(), ErrUnexpectedPacket)
	}
}

func (d *Dispatcher) handleConnect(ctx context.Context, s *Session) error {
	d.hctx.Protocol = protocol
	d.hctx.ClientID = s.ClientID
	d.hctx.Username = s.Username
	d.hctx.Password = s.Password

	if s.ClientID == "" && !s.CleanSession {
		if err := d.connack(s, packets.ErrRefusedIDRejected); err != nil {
			return err
		}
		return fmt.Errorf("mqtt: empty client identifier without clean session: %w", perrors.ErrInvalidInput)
	}

	if err := d.h.AuthConnect(ctx, d.hctx); err != nil {
		d.metrics.AuthFailure(protocol, "connect")
		d.logger.Debug("connection authorization failed",
			slog.String("session", d.hctx.SessionID),
			slog.String("client_id", d.hctx.ClientID),
			slog.Any("error", err))
		if err := d.connack(s, packets.ErrRefusedNotAuthorised); err != nil {
			return err
		}
		return callbackError(err)
	}

	if err := d.connack(s, packets.Accepted); err != nil {
		return err
	}
	if err := d.h.OnConnect(ctx, d.hctx); err != nil {
		d.warn("OnConnect", err)
	}
	return nil
}

func (d *Dispatcher) connack(s *Session, code byte) error {
	return d.send(s, Connack, 0, []byte{0, code})
}

func (d *Dispatcher) handlePublish(ctx context.Context, s *Session, m *Message) error {
	topic := m.Topic
	payload := m.Payload
	if err := d.h.AuthPublish(ctx, d.hctx, &topic, &payload); err != nil {
		d.metrics.AuthFailure(protocol, "publish")
		d.logger.Debug("publish authorization failed",
			slog.String("session", d.hctx.SessionID),
			slog.String("topic", topic),
			slog.Any("error", err))
		return callbackError(err)
	}
	if err := d.h.OnPublish(ctx, d.hctx, topic, payload); err != nil {
		d.warn("OnPublish", err)
	}

	switch m.QoS {
	case 1:
		return d.sendID(s, Puback, 0, m.PacketID)
	case 2:
		return d.sendID(s, Pubrec, 0, m.PacketID)
	}
	return nil
}

func (d *Dispatcher) handleSubscribe(ctx context.Context, s *Session, m *Message) error {
	topics := make([]string, len(m.Subscriptions))
	for i, sub := range m.Subscriptions {
		topics[i] = sub.Topic
	}

	if err := d.h.AuthSubscribe(ctx, d.hctx, &topics); err != nil {
		d.metrics.AuthFailure(protocol, "subscribe")
		d.logger.Debug("subscribe authorization failed",
			slog.String("session", d.hctx.SessionID),
			slog.Any("error", err))
		return callbackError(err)
	}

	// Filters the handler removed are reported as failures.
	d.buf = binary.BigEndian.AppendUint16(d.buf[:0], m.PacketID)
	for _, sub := range m.Subscriptions {
		if slices.Contains(topics, sub.Topic) {
			d.buf = append(d.buf, sub.QoS)
			continue
		}
		d.buf = append(d.buf, subackFailure)
	}
	if err := d.send(s, Suback, 0, d.buf); err != nil {
		return err
	}

	if len(topics) > 0 {
		if err := d.h.OnSubscribe(ctx, d.hctx, topics); err != nil {
			d.warn("OnSubscribe", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleUnsubscribe(ctx context.Context, s *Session, m *Message) error {
	if err := d.sendID(s, Unsuback, 0, m.PacketID); err != nil {
		return err
	}
	if err := d.h.OnUnsubscribe(ctx, d.hctx, slices.Clone(m.Topics)); err != nil {
		d.warn("OnUnsubscribe", err)
	}
	return nil
}

func (d *Dispatcher) sendID(s *Session, t PacketType, flags byte, id uint16) error {
	d.buf = binary.BigEndian.AppendUint16(d.buf[:0], id)
	return d.send(s, t, flags, d.buf)
}

func (d *Dispatcher) send(s *Session, t PacketType, flags byte, payload []byte) error {
	if err := s.Send(t, flags, payload); err != nil {
		return err
	}
	d.metrics.MQTTPacket(t.String(), parser.Outbound.String())
	return nil
}

func (d *Dispatcher) warn(callback string, err error) {
	d.logger.Warn(callback+" handler error",
		slog.String("session", d.hctx.SessionID),
		slog.Any("error", err))
}

func callbackError(err error) error {
	return fmt.Errorf("%w: %w", perrors.ErrCallback, err)
}
