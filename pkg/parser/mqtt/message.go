// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"bytes"
	"encoding/binary"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// State is the position of a Message in the frame grammar.
type State uint8

const (
	// StateFixedCtrlPack expects the type and flags byte.
	StateFixedCtrlPack State = iota
	// StateFixedLength decodes the remaining length.
	StateFixedLength
	// StateVarHdrPayload collects the variable header and payload.
	StateVarHdrPayload
	// StateComplete holds a decoded frame until Reset.
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateFixedCtrlPack:
		return "fixed-ctrlpack"
	case StateFixedLength:
		return "fixed-length"
	case StateVarHdrPayload:
		return "varhdr-payload"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Protocol names and levels accepted in CONNECT.
const (
	ProtocolMQTT311 = "MQTT"
	ProtocolMQTT31  = "MQIsdp"
	Level311        = 4
	Level31         = 3
)

// Connect flag bits.
const (
	connectReserved     = 0x01
	connectCleanSession = 0x02
	connectWill         = 0x04
	connectWillQoS      = 0x18
	connectWillRetain   = 0x20
	connectPassword     = 0x40
	connectUsername     = 0x80
)

// ConnectFields is the decoded variable header and payload of a CONNECT.
// Byte slices point into the message buffer.
type ConnectFields struct {
	ProtocolName  string
	ProtocolLevel byte
	Flags         byte
	KeepAlive     uint16
	ClientID      string
	WillTopic     string
	WillMessage   []byte
	Username      string
	Password      []byte
}

// CleanSession reports the clean session flag.
func (c *ConnectFields) CleanSession() bool { return c.Flags&connectCleanSession != 0 }

// Will reports the will flag.
func (c *ConnectFields) Will() bool { return c.Flags&connectWill != 0 }

// WillQoS returns the QoS of the will message.
func (c *ConnectFields) WillQoS() byte { return (c.Flags & connectWillQoS) >> 3 }

// WillRetain reports the will retain flag.
func (c *ConnectFields) WillRetain() bool { return c.Flags&connectWillRetain != 0 }

// HasUsername reports the user name flag.
func (c *ConnectFields) HasUsername() bool { return c.Flags&connectUsername != 0 }

// HasPassword reports the password flag.
func (c *ConnectFields) HasPassword() bool { return c.Flags&connectPassword != 0 }

// Subscription is a topic filter with its requested QoS.
type Subscription struct {
	Topic string
	QoS   byte
}

// Message decodes one MQTT control packet at a time from arbitrarily split input.
//
// The variable header and payload are collected in a buffer owned by the Message
// and reused between frames. Payload, WillMessage and Password slices point into
// that buffer and are valid until the next frame starts.
type Message struct {
	state      State
	multiplier int
	lenBytes   int
	maxSize    int
	buf        []byte
	cursor     int

	Type      PacketType
	Flags     byte
	Remaining int

	PacketID uint16

	// PUBLISH
	Topic   string
	QoS     byte
	Dup     bool
	Retain  bool
	Payload []byte

	// CONNECT
	Connect ConnectFields

	// CONNACK
	SessionPresent bool
	ReturnCode     byte

	// SUBSCRIBE, UNSUBSCRIBE and SUBACK
	Subscriptions []Subscription
	Topics        []string
	ReturnCodes   []byte
}

// Reset prepares m for the next frame and keeps its buffer.
func (m *Message) Reset() {
	buf, subs, topics, codes := m.buf[:0], m.Subscriptions[:0], m.Topics[:0], m.ReturnCodes[:0]
	maxSize := m.maxSize
	*m = Message{
		buf:           buf,
		maxSize:       maxSize,
		Subscriptions: subs,
		Topics:        topics,
		ReturnCodes:   codes,
	}
}

// State returns the current parse state.
func (m *Message) State() State {
	return m.state
}

// Complete reports whether a whole frame has been decoded.
func (m *Message) Complete() bool {
	return m.state == StateComplete
}

// Size returns the size of the frame on the wire, once the remaining length is known.
func (m *Message) Size() int {
	return 1 + m.lenBytes + m.Remaining
}

// Body returns the variable header and payload of a complete frame.
func (m *Message) Body() []byte {
	return m.buf
}

// Parse consumes bytes of the current frame from p and returns how many it used.
// It stops at the end of the frame; the caller resets the message before the next one.
func (m *Message) Parse(p []byte) (int, error) {
	i := 0
	for i < len(p) {
		switch m.state {
		case StateFixedCtrlPack:
			t, flags := PacketType(p[i]>>4), p[i]&0x0f
			if err := ValidateFlags(t, flags); err != nil {
				return i, err
			}
			m.Type, m.Flags = t, flags
			m.multiplier = 1
			m.state = StateFixedLength
			i++

		case StateFixedLength:
			b := p[i]
			m.lenBytes++
			m.Remaining += int(b&0x7f) * m.multiplier
			if b&0x80 != 0 {
				if m.multiplier == maxMultiplier {
					return i, ErrRemainingLength
				}
				m.multiplier *= 128
				i++
				continue
			}
			if err := m.begin(); err != nil {
				return i, err
			}
			i++
			if m.Remaining == 0 {
				return i, m.finish()
			}

		case StateVarHdrPayload:
			n := copy(m.buf[m.cursor:], p[i:])
			m.cursor += n
			i += n
			if m.cursor == len(m.buf) {
				return i, m.finish()
			}

		case StateComplete:
			return i, nil
		}
	}
	return i, nil
}

// begin checks the decoded remaining length and sizes the buffer for it.
func (m *Message) begin() error {
	if m.oversized() {
		return ErrPacketTooLarge
	}
	if zeroLength(m.Type) && m.Remaining != 0 {
		return ErrMalformedPacket
	}
	if cap(m.buf) < m.Remaining {
		m.buf = make([]byte, m.Remaining)
	}
	m.buf = m.buf[:m.Remaining]
	m.cursor = 0
	m.state = StateVarHdrPayload
	return nil
}

func (m *Message) oversized() bool {
	return m.maxSize > 0 && m.Size() > m.maxSize
}

func (m *Message) finish() error {
	if err := m.decode(); err != nil {
		return err
	}
	m.state = StateComplete
	return nil
}

func (m *Message) decode() error {
	r := reader{b: m.buf}
	switch m.Type {
	case Connect:
		m.decodeConnect(&r)
	case Connack:
		ack := r.readByte()
		m.ReturnCode = r.readByte()
		if ack&^0x01 != 0 {
			return ErrMalformedPacket
		}
		m.SessionPresent = ack&0x01 != 0
	case Publish:
		m.QoS = (m.Flags & FlagQoS) >> 1
		m.Dup = m.Flags&FlagDup != 0
		m.Retain = m.Flags&FlagRetain != 0
		m.Topic = r.readString()
		if m.QoS > 0 {
			m.PacketID = r.readUint16()
		}
		m.Payload = r.rest()
	case Puback, Pubrec, Pubrel, Pubcomp, Unsuback:
		m.PacketID = r.readUint16()
	case Subscribe:
		m.PacketID = r.readUint16()
		for r.more() {
			topic := r.readString()
			qos := r.readByte()
			if qos > 2 {
				return ErrMalformedPacket
			}
			m.Subscriptions = append(m.Subscriptions, Subscription{Topic: topic, QoS: qos})
		}
		if len(m.Subscriptions) == 0 {
			return ErrMalformedPacket
		}
	case Suback:
		m.PacketID = r.readUint16()
		m.ReturnCodes = append(m.ReturnCodes, r.rest()...)
	case Unsubscribe:
		m.PacketID = r.readUint16()
		for r.more() {
			m.Topics = append(m.Topics, r.readString())
		}
		if len(m.Topics) == 0 {
			return ErrMalformedPacket
		}
	}
	if r.err != nil {
		return r.err
	}
	if r.more() {
		return ErrMalformedPacket
	}
	return nil
}

func (m *Message) decodeConnect(r *reader) {
	c := &m.Connect
	c.ProtocolName = r.readString()
	c.ProtocolLevel = r.readByte()
	c.Flags = r.readByte()
	c.KeepAlive = r.readUint16()
	if r.err != nil {
		return
	}
	switch {
	case c.ProtocolName == ProtocolMQTT311 && c.ProtocolLevel == Level311:
	case c.ProtocolName == ProtocolMQTT31 && c.ProtocolLevel == Level31:
	default:
		r.fail(ErrInvalidProtocol)
		return
	}
	if err := validateConnectFlags(c.Flags); err != nil {
		r.fail(err)
		return
	}

	c.ClientID = r.readString()
	if c.Will() {
		c.WillTopic = r.readString()
		c.WillMessage = r.readBytes()
	}
	if c.HasUsername() {
		c.Username = r.readString()
	}
	if c.HasPassword() {
		c.Password = r.readBytes()
	}
}

func validateConnectFlags(flags byte) error {
	if flags&connectReserved != 0 {
		return ErrInvalidConnectFlags
	}
	qos := (flags & connectWillQoS) >> 3
	if flags&connectWill == 0 {
		if qos != 0 || flags&connectWillRetain != 0 {
			return ErrInvalidConnectFlags
		}
	} else if qos > 2 {
		return ErrInvalidConnectFlags
	}
	if flags&connectPassword != 0 && flags&connectUsername == 0 {
		return ErrInvalidConnectFlags
	}
	return nil
}

// ControlPacket converts a complete message into its paho representation.
func (m *Message) ControlPacket() (packets.ControlPacket, error) {
	if m.state != StateComplete {
		return nil, ErrIncomplete
	}
	cp, err := packets.NewControlPacketWithHeader(packets.FixedHeader{
		MessageType:     byte(m.Type),
		Dup:             m.Flags&FlagDup != 0,
		Qos:             (m.Flags & FlagQoS) >> 1,
		Retain:          m.Flags&FlagRetain != 0,
		RemainingLength: m.Remaining,
	})
	if err != nil {
		return nil, err
	}
	if err := cp.Unpack(bytes.NewReader(m.buf)); err != nil {
		return nil, err
	}
	return cp, nil
}

// reader walks a variable header and payload. The first short read sets err and
// turns every later read into a no-op.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.off = len(r.b)
}

func (r *reader) more() bool {
	return r.err == nil && r.off < len(r.b)
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b)-r.off < n {
		r.fail(ErrMalformedPacket)
		return nil
	}
	p := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return p
}

func (r *reader) readByte() byte {
	if p := r.next(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *reader) readUint16() uint16 {
	if p := r.next(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (r *reader) readBytes() []byte {
	n := r.readUint16()
	if r.err != nil {
		return nil
	}
	return r.next(int(n))
}

func (r *reader) readString() string {
	return string(r.readBytes())
}

func (r *reader) rest() []byte {
	return r.next(len(r.b) - r.off)
}
