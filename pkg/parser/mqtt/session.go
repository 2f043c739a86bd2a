// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"bytes"
	"io"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// Config bounds the resources of a Session.
type Config struct {
	// MaxPacketSize caps the size of an inbound frame, fixed header included.
	// Zero, like the default MaxPacketSize, admits every encodable frame.
	MaxPacketSize int `env:"MAX_PACKET_SIZE" envDefault:"268435460"`
}

// SessionState is the connection-level state of a Session.
type SessionState uint8

const (
	// SessionAwaitingConnect accepts nothing but CONNECT.
	SessionAwaitingConnect SessionState = iota
	// SessionConnected accepts everything but CONNECT.
	SessionConnected
	// SessionDisconnected follows DISCONNECT or Close.
	SessionDisconnected
)

func (s SessionState) String() string {
	switch s {
	case SessionAwaitingConnect:
		return "awaiting-connect"
	case SessionConnected:
		return "connected"
	case SessionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the per-connection MQTT state: the frame in flight, the fields of the
// accepted CONNECT and the queue of outbound frames.
//
// A Session is not safe for concurrent use.
type Session struct {
	cfg   Config
	state SessionState
	msg   Message
	err   error

	queue  []*bytebufferpool.ByteBuffer
	off    int
	closed bool

	ClientID      string
	Username      string
	Password      []byte
	WillTopic     string
	WillMessage   []byte
	WillQoS       byte
	WillRetain    bool
	CleanSession  bool
	KeepAlive     uint16
	ProtocolLevel byte
}

// NewSession returns a Session awaiting CONNECT.
func NewSession(cfg Config) *Session {
	s := &Session{cfg: cfg}
	s.msg.maxSize = cfg.MaxPacketSize
	return s
}

// State returns the connection-level state.
func (s *Session) State() SessionState {
	return s.state
}

// Message returns the frame in flight. After Parse it holds the frame that was
// just completed, if any.
func (s *Session) Message() *Message {
	return &s.msg
}

// Err returns the error that stopped the session, if any.
func (s *Session) Err() error {
	return s.err
}

// Parse feeds p to the current frame and returns how many bytes were consumed.
// It stops after a complete frame, which stays available through Message until the
// next call. Errors are sticky.
func (s *Session) Parse(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.state == SessionDisconnected {
		return 0, ErrSessionClosed
	}
	if s.msg.Complete() {
		s.msg.Reset()
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.msg.state == StateFixedCtrlPack {
		if err := s.checkType(PacketType(p[0] >> 4)); err != nil {
			return 0, s.fail(err)
		}
	}
	n, err := s.msg.Parse(p)
	if err != nil {
		return n, s.fail(err)
	}
	if !s.msg.Complete() {
		return n, nil
	}

	switch s.msg.Type {
	case Connect:
		s.connect(&s.msg.Connect)
	case Disconnect:
		s.state = SessionDisconnected
	}
	return n, nil
}

func (s *Session) checkType(t PacketType) error {
	switch {
	case t == Connect && s.state != SessionAwaitingConnect:
		return ErrUnexpectedConnect
	case t != Connect && s.state == SessionAwaitingConnect:
		return ErrNotConnected
	}
	return nil
}

func (s *Session) fail(err error) error {
	op := "payload"
	switch s.msg.state {
	case StateFixedCtrlPack:
		op = "fixed-header"
	case StateFixedLength:
		op = "remaining-length"
	}
	s.err = perrors.New(op, protocol, s.msg.state.String(), err)
	return s.err
}

// connect keeps owned copies of the CONNECT fields; the message buffer is reused.
func (s *Session) connect(c *ConnectFields) {
	s.ClientID = c.ClientID
	s.Username = c.Username
	s.Password = bytes.Clone(c.Password)
	s.WillTopic = c.WillTopic
	s.WillMessage = bytes.Clone(c.WillMessage)
	s.WillQoS = c.WillQoS()
	s.WillRetain = c.WillRetain()
	s.CleanSession = c.CleanSession()
	s.KeepAlive = c.KeepAlive
	s.ProtocolLevel = c.ProtocolLevel
	s.state = SessionConnected
}

// Send encodes a fixed header for a frame of type t carrying payload, which holds
// the variable header and payload, and queues the frame.
func (s *Session) Send(t PacketType, flags byte, payload []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ValidateFlags(t, flags); err != nil {
		return err
	}
	if len(payload) > MaxRemainingLength {
		return ErrPacketTooLarge
	}

	bb := bytebufferpool.Get()
	bb.B = append(bb.B, byte(t)<<4|flags)
	bb.B, _ = AppendRemainingLength(bb.B, len(payload))
	bb.B = append(bb.B, payload...)
	s.queue = append(s.queue, bb)
	return nil
}

// Pending returns the number of queued bytes not yet written.
func (s *Session) Pending() int {
	n := -s.off
	for _, bb := range s.queue {
		n += bb.Len()
	}
	return n
}

// WriteTo drains the send queue into w. On a short write the unwritten bytes
// stay queued.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for len(s.queue) > 0 {
		bb := s.queue[0]
		n, err := w.Write(bb.B[s.off:])
		total += int64(n)
		if err != nil {
			s.off += n
			return total, err
		}
		s.off = 0
		s.queue[0] = nil
		s.queue = s.queue[1:]
		bytebufferpool.Put(bb)
	}
	s.queue = s.queue[:0]
	return total, nil
}

// Close drops queued frames and the message buffer. The session accepts no
// further input.
func (s *Session) Close() error {
	for _, bb := range s.queue {
		bytebufferpool.Put(bb)
	}
	s.queue = nil
	s.off = 0
	s.msg = Message{}
	s.state = SessionDisconnected
	s.closed = true
	return nil
}
