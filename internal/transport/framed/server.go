package framed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/mdlayher/vsock"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/worker"
)

// Handler serves one host session. *worker.Dispatcher implements it.
type Handler interface {
	Serve(ctx context.Context, s worker.Stream) error
}

// Listen opens a listener for network "unix", "tcp" or "vsock". For vsock,
// port is the listen port and addr is ignored. A stale unix socket file is
// removed first.
func Listen(network, addr string, port uint32) (net.Listener, error) {
	switch network {
	case "unix":
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		return net.Listen("unix", addr)
	case "tcp":
		return net.Listen("tcp", addr)
	case "vsock":
		return vsock.Listen(port, nil)
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// Server accepts host connections and hands each to the Handler.
type Server struct {
	Handler        Handler
	MaxMessageSize int

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Serve accepts connections on ln until ctx is done. It then closes ln and
// every open connection, waits for their sessions and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeAll()
	})
	defer stop()
	defer s.wg.Wait()

	logging.Op().Info("framed transport listening", "network", ln.Addr().Network(), "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	logging.Op().Info("host connected", "remote", remote)
	if err := s.Handler.Serve(ctx, NewCodec(conn, s.MaxMessageSize)); err != nil {
		logging.Op().Error("host session ended with error", "remote", remote, "error", err)
		return
	}
	logging.Op().Info("host disconnected", "remote", remote)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
