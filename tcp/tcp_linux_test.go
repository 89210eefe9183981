//go:build linux

package tcp_test

import (
	"bytes"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/pong/internal/netbuf"
	"github.com/legamerdc/pong/poller"
	"github.com/legamerdc/pong/tcp"
)

var (
	listenTok = poller.Token{Kind: poller.KindListener}
	clientTok = poller.Token{Kind: poller.KindStream, Index: 1}
	serverTok = poller.Token{Kind: poller.KindConnection, Index: 2}
)

type loop struct {
	t      *testing.T
	p      poller.Poller
	events []poller.Event
}

func newLoop(t *testing.T) *loop {
	p, err := poller.New()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &loop{t: t, p: p, events: make([]poller.Event, 16)}
}

// until 反复 Poll 并分发事件，直到 done 返回 true 或超时。
func (l *loop) until(fn func(ev poller.Event), done func() bool) {
	l.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !done() {
		require.True(l.t, time.Now().Before(deadline), "timed out waiting for condition")
		n, err := l.p.Poll(l.events, 50)
		require.NoError(l.t, err)
		for _, ev := range l.events[:n] {
			fn(ev)
		}
	}
}

func listen(t *testing.T, l *loop) *tcp.Listener {
	ln, err := tcp.Listen(l.p, netip.MustParseAddrPort("127.0.0.1:0"), 16, listenTok)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	require.NotZero(t, ln.Addr().Port())
	return ln
}

func TestStream_ConnectAcceptExchange(t *testing.T) {
	l := newLoop(t)
	ln := listen(t, l)
	require.NoError(t, ln.StartAccept())
	assert.True(t, ln.Accepting())

	var cli, srv tcp.Stream
	defer cli.Close()
	defer srv.Close()

	require.NoError(t, cli.Open(l.p, clientTok, false))
	assert.Equal(t, tcp.Idle, cli.State())
	require.NoError(t, cli.StartConnect(ln.Addr()))
	assert.Equal(t, tcp.Connecting, cli.State())
	// 连接建立前写入的数据在连接完成后发出
	require.NoError(t, cli.StartSend([]byte("ping")))

	accepted := false
	l.until(func(ev poller.Event) {
		switch ev.Token.Kind {
		case poller.KindListener:
			peer, ok, err := ln.Accept(&srv, serverTok)
			require.NoError(t, err)
			if ok {
				accepted = true
				assert.True(t, peer.Addr().IsLoopback())
				require.NoError(t, srv.StartRecv())
			}
		case poller.KindStream:
			if ev.Ready&poller.Writable != 0 {
				if cli.State() == tcp.Connecting {
					require.NoError(t, cli.FinishConnect())
				}
				require.NoError(t, cli.Flush())
			}
		case poller.KindConnection:
			_, err := srv.Recv()
			require.NoError(t, err)
		}
	}, func() bool { return accepted && srv.Received() >= 4 })

	assert.Equal(t, tcp.Connected, cli.State())
	assert.Equal(t, tcp.Connected, srv.State())
	assert.Zero(t, cli.Pending())
	assert.Equal(t, "ping", string(srv.Input()))

	require.NoError(t, srv.Consume(2))
	assert.Equal(t, "ng", string(srv.Input()))
	assert.ErrorIs(t, srv.Consume(3), tcp.ErrConsume)

	// 有序关闭
	require.NoError(t, cli.StartRecv())
	require.NoError(t, cli.Close())
	assert.Equal(t, tcp.Closed, cli.State())
	assert.NoError(t, cli.Close())

	var eof error
	l.until(func(ev poller.Event) {
		if ev.Token == serverTok {
			_, eof = srv.Recv()
		}
	}, func() bool { return eof != nil })
	assert.ErrorIs(t, eof, io.EOF)
}

func TestStream_SendBufferFull(t *testing.T) {
	l := newLoop(t)
	ln := listen(t, l)

	var cli tcp.Stream
	defer cli.Close()
	require.NoError(t, cli.Open(l.p, clientTok, false))
	require.NoError(t, cli.StartConnect(ln.Addr()))

	require.NoError(t, cli.StartSend(bytes.Repeat([]byte{'a'}, netbuf.Size-1)))
	assert.ErrorIs(t, cli.StartSend([]byte("ab")), tcp.ErrBufferFull)
	assert.Equal(t, netbuf.Size-1, cli.Pending(), "rejected send must not be partially buffered")
	require.NoError(t, cli.StartSend([]byte("b")))
	assert.Equal(t, netbuf.Size, cli.Pending())
}

func TestStream_ConnectRefused(t *testing.T) {
	l := newLoop(t)
	ln := listen(t, l)
	addr := ln.Addr()
	// 关闭监听后端口上没有人 accept
	require.NoError(t, ln.Close())

	var cli tcp.Stream
	defer cli.Close()
	require.NoError(t, cli.Open(l.p, clientTok, false))
	err := cli.StartConnect(addr)
	if err == nil {
		var finish error
		l.until(func(ev poller.Event) {
			if ev.Ready&poller.Writable != 0 && finish == nil {
				finish = cli.FinishConnect()
				require.Error(t, finish)
			}
		}, func() bool { return finish != nil })
		err = finish
	}
	var ce *tcp.ConnectError
	assert.ErrorAs(t, err, &ce)
}

func TestStream_InvalidTransitions(t *testing.T) {
	l := newLoop(t)
	var s tcp.Stream
	assert.ErrorIs(t, s.FinishConnect(), tcp.ErrState)
	assert.ErrorIs(t, s.StartSend([]byte("x")), tcp.ErrState)
	_, err := s.Recv()
	assert.ErrorIs(t, err, tcp.ErrState)

	require.NoError(t, s.Open(l.p, clientTok, false))
	assert.ErrorIs(t, s.Open(l.p, clientTok, false), tcp.ErrState)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.StartRecv(), tcp.ErrState)
}

func TestListener_StopAccept(t *testing.T) {
	l := newLoop(t)
	ln := listen(t, l)
	require.NoError(t, ln.StartAccept())
	require.NoError(t, ln.StopAccept())
	assert.False(t, ln.Accepting())

	var s tcp.Stream
	_, ok, err := ln.Accept(&s, serverTok)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStream_AttachSetsSocketOptions(t *testing.T) {
	l := newLoop(t)
	// 阻塞模式创建，Attach 负责改为非阻塞
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	var s tcp.Stream
	require.NoError(t, s.Attach(l.p, fd, serverTok))
	defer s.Close()

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
	nodelay, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.Equal(t, 1, nodelay)
}

func TestStream_AttachRejectsNonTCP(t *testing.T) {
	l := newLoop(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[1])

	var s tcp.Stream
	err := s.Attach(l.p, fds[0], serverTok)
	assert.ErrorIs(t, err, unix.ENOTSOCK)
	assert.Equal(t, tcp.Idle, s.State())
	// 失败时 fd 已被关闭
	assert.ErrorIs(t, unix.Close(fds[0]), unix.EBADF)
}
