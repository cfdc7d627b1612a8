package sshagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh/agent"

	"github.com/majorcontext/litterbox/internal/log"
)

// ErrSocketInUse is returned by Start when another agent is already serving
// the socket path.
var ErrSocketInUse = errors.New("agent socket already in use")

// Server listens for SSH agent protocol connections on a litterbox's Unix
// socket and serves them through a Gate.
type Server struct {
	gate       *Gate
	socketPath string
	listener   net.Listener

	// ctx is cancelled by Stop so pending confirmations give up.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new SSH agent server listening on a Unix socket.
func NewServer(gate *Gate, socketPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		gate:       gate,
		socketPath: socketPath,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
		done:       make(chan struct{}),
	}
}

// SocketPath returns the path to the Unix socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Gate returns the gate requests are served through.
func (s *Server) Gate() *Gate {
	return s.gate
}

// Start binds the socket and begins serving in the background. A stale
// socket file left by a previous instance is replaced.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	s.listener = listener

	// Only the owner may talk to the agent; the litterbox sees the socket
	// through a bind mount running as the same user.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	log.Debug("ssh agent listening", "lbx", s.gate.LitterboxName(), "socket", s.socketPath)

	s.wg.Add(1)
	go s.serve()

	return nil
}

// Serve starts the server and blocks until ctx is cancelled, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// removeStaleSocket deletes a dead socket at path. Live sockets and files
// that are not sockets are left alone and reported.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking socket: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}

	log.Debug("removing stale agent socket", "socket", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Debug("accepting agent connection", "error", err)
				continue
			}
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

// track registers conn so Stop can close it. It returns false once the
// server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	if err := agent.ServeAgent(s.gate.WithContext(ctx), conn); err != nil && !isClosedConn(err) {
		log.Debug("agent connection ended", "lbx", s.gate.LitterboxName(), "error", err)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF)
}

// Stop shuts down the server. Pending confirmations are cancelled and
// therefore denied, open connections are closed, and the socket file is
// removed.
func (s *Server) Stop() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
	if s.listener == nil {
		return nil
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing socket: %w", err)
	}
	return nil
}
