// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"fmt"

	perrors "github.com/absmach/sockparse/pkg/errors"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

const protocol = "mqtt"

// PacketType is the high nibble of the first fixed header byte.
type PacketType byte

const (
	Connect     PacketType = packets.Connect
	Connack     PacketType = packets.Connack
	Publish     PacketType = packets.Publish
	Puback      PacketType = packets.Puback
	Pubrec      PacketType = packets.Pubrec
	Pubrel      PacketType = packets.Pubrel
	Pubcomp     PacketType = packets.Pubcomp
	Subscribe   PacketType = packets.Subscribe
	Suback      PacketType = packets.Suback
	Unsubscribe PacketType = packets.Unsubscribe
	Unsuback    PacketType = packets.Unsuback
	Pingreq     PacketType = packets.Pingreq
	Pingresp    PacketType = packets.Pingresp
	Disconnect  PacketType = packets.Disconnect
)

func (t PacketType) String() string {
	if name, ok := packets.PacketNames[uint8(t)]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether t is one of the fourteen MQTT 3.1.1 packet types.
func (t PacketType) Valid() bool {
	return t >= Connect && t <= Disconnect
}

// Fixed header flag bits of PUBLISH.
const (
	FlagRetain byte = 0x01
	FlagQoS    byte = 0x06
	FlagDup    byte = 0x08

	// flagsAck is the only valid flag value of PUBREL, SUBSCRIBE and UNSUBSCRIBE.
	flagsAck byte = 0x02
)

// Framing errors. All of them match errors.ErrProtocolViolation.
var (
	ErrInvalidPacketType   = fmt.Errorf("mqtt: invalid packet type: %w", perrors.ErrProtocolViolation)
	ErrInvalidFlags        = fmt.Errorf("mqtt: invalid fixed header flags: %w", perrors.ErrProtocolViolation)
	ErrRemainingLength     = fmt.Errorf("mqtt: malformed remaining length: %w", perrors.ErrProtocolViolation)
	ErrUnexpectedConnect   = fmt.Errorf("mqtt: CONNECT on a connected session: %w", perrors.ErrProtocolViolation)
	ErrNotConnected        = fmt.Errorf("mqtt: packet before CONNECT: %w", perrors.ErrProtocolViolation)
	ErrUnexpectedPacket    = fmt.Errorf("mqtt: packet not allowed from a client: %w", perrors.ErrProtocolViolation)
	ErrInvalidProtocol     = fmt.Errorf("mqtt: invalid protocol name or level: %w", perrors.ErrProtocolViolation)
	ErrInvalidConnectFlags = fmt.Errorf("mqtt: invalid connect flags: %w", perrors.ErrProtocolViolation)
	ErrMalformedPacket     = fmt.Errorf("mqtt: malformed packet: %w", perrors.ErrProtocolViolation)
)

var (
	// ErrPacketTooLarge is returned for packets above the configured maximum size.
	ErrPacketTooLarge = perrors.NewLimit("mqtt: packet too large", 0)

	// ErrSessionClosed is returned by a session after Close or DISCONNECT.
	ErrSessionClosed = fmt.Errorf("mqtt: session closed: %w", perrors.ErrConnectionClosed)

	// ErrIncomplete is returned when a message is used before it is complete.
	ErrIncomplete = fmt.Errorf("mqtt: message incomplete: %w", perrors.ErrInvalidInput)
)

// ValidateFlags checks the low nibble of a fixed header against the flags
// required by the packet type.
func ValidateFlags(t PacketType, flags byte) error {
	switch t {
	case Publish:
		if flags&FlagQoS == FlagQoS {
			return ErrInvalidFlags
		}
		return nil
	case Pubrel, Subscribe, Unsubscribe:
		if flags != flagsAck {
			return ErrInvalidFlags
		}
		return nil
	default:
		if !t.Valid() {
			return ErrInvalidPacketType
		}
		if flags != 0 {
			return ErrInvalidFlags
		}
		return nil
	}
}

// zeroLength reports whether packets of type t never carry a variable header.
func zeroLength(t PacketType) bool {
	switch t {
	case Pingreq, Pingresp, Disconnect:
		return true
	default:
		return false
	}
}
