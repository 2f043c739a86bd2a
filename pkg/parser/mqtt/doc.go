// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements an incremental MQTT 3.1 and 3.1.1 frame parser.
//
// # Overview
//
// Message decodes one control packet at a time through four states:
//
//	FixedCtrlPack → FixedLength → VarHdrPayload → Complete
//
// The first byte carries the packet type and flags, which are checked against
// the flags the type requires. The remaining length follows as a variable length
// integer of at most four bytes. The variable header and payload are then copied
// into a buffer owned by the Message, sized once the length is known, and decoded
// when the last byte arrives. Input may be split at any byte boundary.
//
// # Session
//
// Session wraps a Message with the connection rules: the first packet must be
// CONNECT and no other CONNECT may follow. The fields of the accepted CONNECT are
// kept as owned copies. Outbound frames go through Send, which encodes the fixed
// header in front of the given variable header and payload and queues the frame
// in a pooled buffer until WriteTo drains it.
//
//	s := mqtt.NewSession(mqtt.Config{})
//	n, err := s.Parse(buf)
//	if s.Message().Complete() {
//		// act on s.Message()
//	}
//	s.Send(mqtt.Pingresp, 0, nil)
//	s.WriteTo(conn)
//
// # Handler Integration
//
// Dispatcher maps complete frames onto handler.Handler:
//
//   - CONNECT: AuthConnect, CONNACK, OnConnect
//   - PUBLISH: AuthPublish, OnPublish, PUBACK or PUBREC by QoS
//   - PUBREL: PUBCOMP
//   - SUBSCRIBE: AuthSubscribe, SUBACK, OnSubscribe
//   - UNSUBSCRIBE: UNSUBACK, OnUnsubscribe
//   - PINGREQ: PINGRESP
//   - DISCONNECT: OnDisconnect
//
// A rejected CONNECT is answered with CONNACK return code 5 before the
// connection is closed. The parser sets hctx.Protocol = "mqtt".
//
// # Interoperability
//
// Message.ControlPacket converts a complete frame into the packet types of
// github.com/eclipse/paho.mqtt.golang/packets.
package mqtt
