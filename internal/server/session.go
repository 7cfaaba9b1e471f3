// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package server

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Session describes one accepted connection. It is owned exclusively by the
// goroutine handling the connection; the registry only tracks it for
// diagnostics and shutdown broadcast.
type Session struct {
	ID         string
	RemoteAddr string
	OpenedAt   time.Time

	conn net.Conn
}

type sessionEvent struct {
	session *Session
	closed  bool
}

// registry tracks live sessions. All mutations flow through a channel to a
// single owner goroutine, so handler goroutines never touch shared state.
type registry struct {
	events   chan sessionEvent
	snapshot chan chan []Session
	done     chan struct{}
}

func newRegistry() *registry {
	r := &registry{
		events:   make(chan sessionEvent, 16),
		snapshot: make(chan chan []Session),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *registry) run() {
	sessions := make(map[string]*Session)
	for {
		select {
		case ev := <-r.events:
			if ev.closed {
				delete(sessions, ev.session.ID)
			} else {
				sessions[ev.session.ID] = ev.session
			}
		case reply := <-r.snapshot:
			out := make([]Session, 0, len(sessions))
			for _, s := range sessions {
				out = append(out, *s)
			}
			reply <- out
		case <-r.done:
			// Shutdown broadcast: closing the sockets unblocks every
			// handler sitting in a read.
			for _, s := range sessions {
				s.conn.Close()
			}
			return
		}
	}
}

func (r *registry) register(conn net.Conn) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		OpenedAt:   time.Now(),
		conn:       conn,
	}
	select {
	case r.events <- sessionEvent{session: s}:
	case <-r.done:
	}
	return s
}

func (r *registry) unregister(s *Session) {
	select {
	case r.events <- sessionEvent{session: s, closed: true}:
	case <-r.done:
	}
}

// sessions returns a point-in-time copy of the live sessions.
func (r *registry) sessions() []Session {
	reply := make(chan []Session, 1)
	select {
	case r.snapshot <- reply:
		return <-reply
	case <-r.done:
		return nil
	}
}

func (r *registry) close() {
	close(r.done)
}
