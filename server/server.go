// Package server implements the accept loop, per-session
// request handling, and opcode dispatch table that sit on
// top of the wire codec, the tenant registry, and
// persistence.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/byster-one/queued/auth"
	"github.com/byster-one/queued/tenant"
	"github.com/byster-one/queued/wire"
)

const defaultWorkerPoolSize = 10

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger directs diagnostic output to l.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithWorkerPoolSize bounds the number of sessions served
// concurrently; additional accepted connections block in
// the accept loop until a slot frees up. n <= 0 is ignored
// and the default of 10 is kept.
func WithWorkerPoolSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// Server owns the listening socket, the session set, and
// the opcode dispatch table. There is exactly one Server
// per process.
type Server struct {
	logger   *log.Logger
	registry *tenant.Registry
	auth     auth.Checker
	poolSize int

	table map[wire.Opcode]handlerFunc

	mu       sync.Mutex
	ln       net.Listener
	sessions map[*session]struct{}
	running  bool

	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

// New creates a Server backed by registry and gated by the
// given password checker.
func New(registry *tenant.Registry, checker auth.Checker, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		auth:     checker,
		poolSize: defaultWorkerPoolSize,
		sessions: make(map[*session]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = make(chan struct{}, s.poolSize)
	s.table = newDispatchTable()
	return s
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) handler(op wire.Opcode) (handlerFunc, bool) {
	h, ok := s.table[op]
	return h, ok
}

// Serve binds addr (host:port), sets SO_REUSEADDR on the
// listening socket the way usock.Conn reaches a raw file
// descriptor via SyscallConn, and runs the accept loop
// until Stop is called or the listener reports a permanent
// error.
func (s *Server) Serve(addr string) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.running = true
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		select {
		case s.sem <- struct{}{}:
		case <-s.done:
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.run(conn)
	}
}

func (s *Server) run(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	sess := newSession(s, conn)
	s.track(sess)
	sess.serve()
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Stop closes every active session's socket, unblocks the
// accept loop by closing the listener, and waits for every
// in-flight handler to return. Go's net.Listener.Close
// already unblocks a pending Accept with an error, so no
// throwaway dial is needed to get the same effect.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	ln := s.ln
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.conn.Close()
	}
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
}
