//go:build linux

package server

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/legamerdc/pong/internal/pool"
	"github.com/legamerdc/pong/poller"
	"github.com/legamerdc/pong/protocol"
	"github.com/legamerdc/pong/replay"
	"github.com/legamerdc/pong/tcp"
)

var (
	listenerToken = poller.Token{Kind: poller.KindListener}
	timerToken    = poller.Token{Kind: poller.KindTimer}
)

// Server 是单线程的权威对战服务器。除 Stop 外，所有方法只能在运行 Run 的 goroutine 中调用。
type Server struct {
	cfg Config
	log *slog.Logger

	p       poller.Poller
	ln      *tcp.Listener
	timer   *poller.Timer
	conns   *pool.Pool[Connection]
	lobbies *pool.Pool[Lobby]
	rec     *replay.Recorder

	events []poller.Event
	torn   []uint64 // 本批次已拆除的连接下标
	tickMs float32
	buf    [protocol.MaxMessageSize]byte

	stopping atomic.Bool
	closed   bool
}

// New 创建监听、定时器与对象池，返回后即开始接受连接（由 Run 驱动）。
func New(cfg Config, logger *slog.Logger) (_ *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		conns:   pool.New[Connection](cfg.MaxConnections),
		lobbies: pool.New[Lobby](cfg.MaxLobbies),
		events:  make([]poller.Event, cfg.MaxEvents),
		torn:    make([]uint64, (cfg.MaxConnections+63)/64),
		tickMs:  float32(cfg.TickPeriod) / float32(time.Millisecond),
	}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	if s.p, err = poller.New(); err != nil {
		return nil, err
	}
	if s.ln, err = tcp.Listen(s.p, netip.MustParseAddrPort(cfg.Address), cfg.Backlog, listenerToken); err != nil {
		return nil, err
	}
	if s.timer, err = poller.NewTimer(); err != nil {
		return nil, err
	}
	if err = s.p.Register(s.timer.Handle(), timerToken, poller.Readable); err != nil {
		return nil, err
	}
	if err = s.timer.Arm(cfg.TickPeriod); err != nil {
		return nil, err
	}
	if cfg.ReplayDir != "" {
		if s.rec, err = replay.NewRecorder(cfg.ReplayDir, cfg.ReplayMaxBytes, logger); err != nil {
			return nil, err
		}
	}
	if err = s.ln.StartAccept(); err != nil {
		return nil, err
	}
	s.log.Info("server listening",
		"addr", s.ln.Addr(),
		"max_connections", cfg.MaxConnections,
		"max_lobbies", cfg.MaxLobbies,
		"tick_period", cfg.TickPeriod,
		"tick_policy", cfg.TickPolicy)
	return s, nil
}

func (s *Server) Addr() netip.AddrPort { return s.ln.Addr() }

// Run 运行事件循环直到 Stop 被调用，仅在 poller 出现不可恢复的错误时返回非 nil。
func (s *Server) Run() error {
	if s.closed {
		return ErrServerClosed
	}
	timeout := int(s.cfg.PollTimeout / time.Millisecond)
	for !s.stopping.Load() {
		if err := s.runOnce(timeout); err != nil {
			s.log.Error("poll failed", "error", err)
			return err
		}
	}
	s.log.Info("server stopping")
	return nil
}

// Stop 可在任意 goroutine（包括信号处理）中调用。
func (s *Server) Stop() {
	if s.stopping.CompareAndSwap(false, true) {
		_ = s.p.Wake()
	}
}

// runOnce 等待一批事件并按返回顺序分发。
func (s *Server) runOnce(timeoutMs int) error {
	n, err := s.p.Poll(s.events, timeoutMs)
	if err != nil {
		return err
	}
	clear(s.torn)
	for _, ev := range s.events[:n] {
		s.dispatch(ev)
	}
	return nil
}

func (s *Server) dispatch(ev poller.Event) {
	switch ev.Token.Kind {
	case poller.KindListener:
		s.acceptAll()
	case poller.KindTimer:
		s.onTimer()
	case poller.KindConnection:
		idx := int(ev.Token.Index)
		if s.isTorn(idx) {
			return
		}
		c, ok := s.conns.Live(idx)
		if !ok {
			return
		}
		s.onConnection(c, ev.Ready)
	default:
		s.log.Warn("event for unknown owner", "kind", ev.Token.Kind, "index", ev.Token.Index)
	}
}

// acceptAll 接收所有待处理连接；连接池满时暂停监听，直到有连接释放。
func (s *Server) acceptAll() {
	for {
		c, err := s.conns.Acquire()
		if err != nil {
			if err := s.ln.StopAccept(); err != nil {
				s.log.Error("pause accepting failed", "error", err)
			}
			s.log.Warn("connection pool exhausted, accepting paused", "live", s.conns.Len())
			return
		}
		idx := s.conns.IndexOf(c)
		tok := poller.Token{Kind: poller.KindConnection, Index: uint32(idx)}
		peer, ok, err := s.ln.Accept(&c.stream, tok)
		if err != nil || !ok {
			_ = s.conns.Release(c)
			if err != nil {
				s.log.Error("accept failed", "error", err)
			}
			return
		}
		c.peer = peer
		if err := c.stream.StartRecv(); err != nil {
			s.disconnect(c, err)
			continue
		}
		s.log.Info("client connected", "conn", idx, "peer", peer)
	}
}

func (s *Server) onTimer() {
	expirations, err := s.timer.Drain()
	if err != nil {
		s.log.Error("tick timer read failed", "error", err)
		return
	}
	steps := s.cfg.steps(expirations)
	if expirations > steps {
		s.log.Debug("ticks dropped", "expired", expirations, "stepped", steps)
	}
	for range steps {
		s.tick()
	}
}

func (s *Server) isTorn(idx int) bool {
	return s.torn[idx/64]&(1<<(uint(idx)%64)) != 0
}

func (s *Server) markTorn(idx int) {
	s.torn[idx/64] |= 1 << (uint(idx) % 64)
}

// Close 用与出错断开相同的路径拆除所有连接，然后释放监听、定时器与 poller。
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.conns.All() {
		s.disconnect(c, ErrServerClosed)
	}
	return s.release()
}

func (s *Server) release() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if s.timer != nil {
		if s.timer.Handle().Registered() {
			keep(s.p.Deregister(s.timer.Handle()))
		}
		keep(s.timer.Close())
	}
	if s.ln != nil {
		keep(s.ln.Close())
	}
	s.rec.Close()
	if s.p != nil {
		keep(s.p.Close())
	}
	if first != nil {
		return fmt.Errorf("server: close: %w", first)
	}
	return nil
}
