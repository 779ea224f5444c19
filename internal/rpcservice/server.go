package rpcservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Server is a minimal newline-delimited-JSON transport for Service. It
// stands in for the generated RPC stub the original service used
// (baidu-rpc over protobuf): the wire framing itself is outside this
// specification's scope, so this repository ships the simplest concrete
// listener that lets Service be exercised over a real network socket.
type Server struct {
	svc      *Service
	logger   log.Logger
	listener net.Listener
}

// NewServer constructs a Server around svc.
func NewServer(svc *Service, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{svc: svc, logger: logger}
}

// Listen binds the listening socket, so callers can learn the resolved
// address (useful when addr asks for an ephemeral port) before Serve
// starts accepting connections.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpcservice: listen %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener's address. Listen must have succeeded
// first.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts and handles connections until Close is called, at which
// point it returns nil. Listen must have succeeded first.
func (s *Server) Serve() error {
	level.Info(s.logger).Log("msg", "listening", "addr", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rpcservice: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// ListenAndServe is a convenience wrapper combining Listen and Serve.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting new connections. In-flight connections finish on
// their own.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				level.Debug(s.logger).Log("msg", "decode error", "remote", conn.RemoteAddr(), "err", err)
			}
			return
		}

		resp := s.svc.Handle(req)
		if err := enc.Encode(resp); err != nil {
			level.Debug(s.logger).Log("msg", "encode error", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}
