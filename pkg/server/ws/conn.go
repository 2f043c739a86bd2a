// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"io"

	"github.com/gorilla/websocket"
)

// messageWriter turns the bytes written between two flushes into a single
// binary message. Nothing is sent when nothing was written.
type messageWriter struct {
	ws *websocket.Conn
	w  io.WriteCloser
}

func (m *messageWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if m.w == nil {
		w, err := m.ws.NextWriter(websocket.BinaryMessage)
		if err != nil {
			return 0, err
		}
		m.w = w
	}
	return m.w.Write(p)
}

// flush completes the current message, if any.
func (m *messageWriter) flush() error {
	if m.w == nil {
		return nil
	}
	err := m.w.Close()
	m.w = nil
	return err
}
