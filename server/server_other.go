//go:build !linux

package server

import (
	"log/slog"
	"net/netip"
)

// Server 仅支持 linux。
type Server struct{}

func New(cfg Config, logger *slog.Logger) (*Server, error) {
	return nil, ErrPlatformNotSupported
}

func (s *Server) Addr() netip.AddrPort { return netip.AddrPort{} }

func (s *Server) Run() error { return ErrPlatformNotSupported }

func (s *Server) Stop() {}

func (s *Server) Close() error { return nil }
