//go:build linux

package server

import (
	"errors"
	"io"
	"net/netip"

	"github.com/legamerdc/pong/poller"
	"github.com/legamerdc/pong/protocol"
	"github.com/legamerdc/pong/tcp"
)

// Connection 是一个已接入的客户端。槽位来自连接池，断开时归还。
type Connection struct {
	stream tcp.Stream
	peer   netip.AddrPort
	lobby  *Lobby
}

func (s *Server) onConnection(c *Connection, ready poller.Interest) {
	if ready&poller.Writable != 0 {
		if err := c.stream.Flush(); err != nil {
			s.disconnect(c, err)
			return
		}
	}
	if ready&poller.Readable != 0 {
		s.onReadable(c)
	}
}

// onReadable 读入数据并处理其中所有完整的帧。接收缓冲被读满时继续读，
// 边沿触发下不会再收到本批数据的通知。
func (s *Server) onReadable(c *Connection) {
	for {
		_, rerr := c.stream.Recv()
		full := c.stream.Full()

		consumed, perr := protocol.ParseClient(c.stream.Input(), func(m protocol.ClientMessage) error {
			return s.handle(c, m)
		})
		if !s.conns.Contains(c) {
			return
		}
		if perr != nil {
			s.log.Warn("protocol violation", "conn", s.conns.IndexOf(c), "peer", c.peer, "error", perr)
			s.disconnect(c, perr)
			return
		}
		_ = c.stream.Consume(consumed)

		if rerr != nil {
			s.disconnect(c, rerr)
			return
		}
		if !full {
			return
		}
	}
}

// send 编码并放入发送缓冲，由可写事件负责写出。发送失败时断开该连接。
func (s *Server) send(c *Connection, m protocol.ServerMessage) {
	n, err := protocol.EncodeServer(s.buf[:], m)
	if err != nil {
		s.log.Error("encode failed", "conn", s.conns.IndexOf(c), "msg", m.MessageID(), "error", err)
		s.disconnect(c, err)
		return
	}
	if err := c.stream.StartSend(s.buf[:n]); err != nil {
		s.disconnect(c, err)
	}
}

func (s *Server) sendError(c *Connection, code protocol.ErrorCode) {
	s.log.Debug("request rejected", "conn", s.conns.IndexOf(c), "peer", c.peer, "code", code)
	s.send(c, protocol.Error{Code: code})
}

// disconnect 是所有断开的唯一路径：离开房间、注销并关闭 socket、归还槽位，
// 并在连接池曾满时恢复监听。重复调用无副作用。
func (s *Server) disconnect(c *Connection, reason error) {
	if !s.conns.Contains(c) {
		return
	}
	idx := s.conns.IndexOf(c)
	switch {
	case errors.Is(reason, io.EOF), errors.Is(reason, ErrServerClosed):
		s.log.Info("client disconnected", "conn", idx, "peer", c.peer, "reason", reason)
	default:
		s.log.Warn("client dropped", "conn", idx, "peer", c.peer, "error", reason)
	}

	if c.lobby != nil {
		s.leaveLobby(c)
	}
	// 尽量把已排队的数据写出
	_ = c.stream.Flush()
	if err := c.stream.Close(); err != nil {
		s.log.Error("close connection failed", "conn", idx, "error", err)
	}
	s.markTorn(idx)
	if err := s.conns.Release(c); err != nil {
		s.log.Error("release connection slot failed", "conn", idx, "error", err)
	}
	if !s.closed && !s.ln.Accepting() {
		if err := s.ln.StartAccept(); err != nil {
			s.log.Error("resume accepting failed", "error", err)
			return
		}
		s.log.Info("accepting resumed", "live", s.conns.Len())
	}
}
