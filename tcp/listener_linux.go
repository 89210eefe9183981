//go:build linux

package tcp

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/pong/internal/netutil"
	"github.com/legamerdc/pong/poller"
)

// Listener 是注册在 poller 上的非阻塞监听 socket。
// 初始不关注可读，由 StartAccept/StopAccept 控制是否接收新连接。
type Listener struct {
	h      poller.Handle
	p      poller.Poller
	closed bool
}

func Listen(p poller.Poller, addr netip.AddrPort, backlog int, tok poller.Token) (*Listener, error) {
	sa, err := netutil.Sockaddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(netutil.Family(addr), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("tcp: socket: %w", err)
	}
	if err := netutil.SetReuseAddr(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	l := &Listener{h: poller.Handle{FD: fd}, p: p}
	if err := p.Register(&l.h, tok, 0); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *Listener) StartAccept() error { return l.p.Update(&l.h, poller.Readable) }

func (l *Listener) StopAccept() error { return l.p.Update(&l.h, 0) }

func (l *Listener) Accepting() bool { return l.h.Interest()&poller.Readable != 0 }

// Accept 接收一个连接并挂到 s 上。没有待接收连接时返回 ok=false 且 err 为 nil。
func (l *Listener) Accept(s *Stream, tok poller.Token) (peer netip.AddrPort, ok bool, err error) {
	for {
		fd, sa, err := unix.Accept4(l.h.FD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err == unix.EAGAIN {
			return netip.AddrPort{}, false, nil
		}
		if err != nil {
			return netip.AddrPort{}, false, fmt.Errorf("tcp: accept4: %w", err)
		}
		if err := s.Attach(l.p, fd, tok); err != nil {
			return netip.AddrPort{}, false, err
		}
		peer = netutil.AddrPort(sa)
		s.remote = peer
		return peer, true, nil
	}
}

// Addr 返回实际绑定的地址（端口为 0 时由内核分配）。
func (l *Listener) Addr() netip.AddrPort {
	sa, err := unix.Getsockname(l.h.FD)
	if err != nil {
		return netip.AddrPort{}
	}
	return netutil.AddrPort(sa)
}

func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	if l.h.Registered() {
		err = l.p.Deregister(&l.h)
	}
	if cerr := unix.Close(l.h.FD); err == nil && cerr != nil {
		err = fmt.Errorf("tcp: close listener: %w", cerr)
	}
	return err
}
