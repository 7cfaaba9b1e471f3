// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package server implements the collector's TCP listener: concurrent
// connection handling, newline-delimited frame extraction, and per-frame
// dispatch to the ingest path with OK/ERROR acknowledgments.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/iyemte/collector-agent-and-server/internal/ingest"
	"github.com/iyemte/collector-agent-and-server/internal/wire"
)

const (
	// acceptPollInterval bounds Accept so shutdown is observed promptly.
	acceptPollInterval = 1 * time.Second

	// maxFrameBytes caps a single frame. Profiles carry full hardware
	// inventories, so this is generous.
	maxFrameBytes = 4 * 1024 * 1024
)

// Server accepts delivery connections and feeds complete frames to the
// Ingestor. Each connection is handled by its own goroutine; handlers share
// nothing but the ingestor and the session registry.
type Server struct {
	ingestor *ingest.Ingestor
	logger   logr.Logger
	metrics  *metrics
	registry *registry

	listenAddr string
	listener   net.Listener
	handlers   sync.WaitGroup

	mu    sync.Mutex
	ready chan struct{}
}

func New(ingestor *ingest.Ingestor, opts ...Option) (*Server, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}

	o := options{
		listenAddr: defaultListenAddr,
		logger:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Server{
		ingestor:   ingestor,
		logger:     o.logger.WithName("listener"),
		metrics:    newMetrics(o.registerer),
		registry:   newRegistry(),
		listenAddr: o.listenAddr,
		ready:      make(chan struct{}),
	}, nil
}

// Start binds the listener and serves until ctx is cancelled. A bind
// failure is returned immediately and is fatal to the caller; everything
// after a successful bind is recoverable.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", s.listenAddr, err)
	}

	s.mu.Lock()
	s.listener = listener
	close(s.ready)
	s.mu.Unlock()

	s.logger.Info("listening for delivery connections", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		if tcp, ok := listener.(*net.TCPListener); ok {
			if err := tcp.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
				s.logger.Error(err, "failed to set accept deadline")
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			s.logger.Error(err, "failed to accept connection")
			continue
		}

		session := s.registry.register(conn)
		s.metrics.activeSessions.Inc()
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConn(ctx, conn, session)
		}()
	}

	s.logger.Info("shutting down, closing open sessions", "sessions", len(s.registry.sessions()))
	s.registry.close()
	s.handlers.Wait()
	return nil
}

// Addr returns the bound listener address, blocking until Start has bound
// it or ctx expires. Used by tests that listen on port 0.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr(), nil
}

// Sessions returns a snapshot of the open sessions for diagnostics.
func (s *Server) Sessions() []Session {
	return s.registry.sessions()
}

// handleConn reads newline-delimited frames until the client disconnects or
// the server shuts down. Partial trailing bytes stay buffered in the
// reader across reads. A frame error produces an ERROR reply but keeps the
// connection open for subsequent frames.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, session *Session) {
	logger := s.logger.WithValues("remote", session.RemoteAddr, "session", session.ID)
	logger.Info("connection accepted")

	defer func() {
		conn.Close()
		s.registry.unregister(session)
		s.metrics.activeSessions.Dec()
		logger.Info("connection closed", "duration", time.Since(session.OpenedAt))
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.metrics.framesReceived.Inc()

		reply := s.dispatch(ctx, line, logger)
		if _, err := conn.Write(reply); err != nil {
			logger.Error(err, "failed to write reply")
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		if errors.Is(err, bufio.ErrTooLong) {
			// Tell the client why before closing, so the oversized entry
			// fails its acknowledgment instead of wedging silently.
			logger.Info("frame exceeds size limit, closing connection", "limit_bytes", maxFrameBytes)
			s.metrics.framesRejected.WithLabelValues("oversized").Inc()
			if _, werr := conn.Write(wire.ErrorReply("frame too large")); werr != nil {
				logger.V(1).Info("failed to write oversize reply", "reason", werr.Error())
			}
			return
		}
		logger.V(1).Info("connection read ended", "reason", err.Error())
	}
}

// dispatch processes one complete frame and returns the reply to send.
func (s *Server) dispatch(ctx context.Context, line []byte, logger logr.Logger) []byte {
	rec, err := wire.DecodeRecord(line)
	if err != nil {
		logger.Info("rejecting malformed frame", "reason", err.Error())
		s.metrics.framesRejected.WithLabelValues("malformed").Inc()
		return wire.ErrorReply("invalid data format")
	}

	kind, err := s.ingestor.Ingest(ctx, rec)
	if err != nil {
		logger.Error(err, "failed to persist record", "kind", kind.String())
		s.metrics.framesRejected.WithLabelValues("persistence").Inc()
		return wire.ErrorReply(fmt.Sprintf("failed to store record: %v", err))
	}

	s.metrics.framesPersisted.WithLabelValues(kind.String()).Inc()
	return wire.OKReply()
}
