//go:build linux

package tcp

import (
	"fmt"
	"io"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/legamerdc/pong/internal/netbuf"
	"github.com/legamerdc/pong/internal/netutil"
	"github.com/legamerdc/pong/poller"
)

// Stream 是带收发缓冲的非阻塞 TCP 连接。
// 不变式：关注 Writable 当且仅当有待发数据或正在连接。
type Stream struct {
	h       poller.Handle
	p       poller.Poller
	state   State
	open    bool // 持有 fd
	reading bool
	remote  netip.AddrPort
	in      netbuf.Buffer
	out     netbuf.Buffer
}

func (s *Stream) State() State { return s.state }

func (s *Stream) FD() int { return s.h.FD }

func (s *Stream) Token() poller.Token { return s.h.Token() }

// Remote 返回对端地址（主动连接的目标或 accept 得到的地址）。
func (s *Stream) Remote() netip.AddrPort { return s.remote }

// Open 创建未连接的非阻塞 socket 并以空关注集合注册。
func (s *Stream) Open(p poller.Poller, tok poller.Token, v6 bool) error {
	if s.state != Idle || s.open {
		return fmt.Errorf("%w: open in %s", ErrState, s.state)
	}
	fam := unix.AF_INET
	if v6 {
		fam = unix.AF_INET6
	}
	fd, err := unix.Socket(fam, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("tcp: socket: %w", err)
	}
	if err := netutil.SetNoDelay(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("tcp: set nodelay: %w", err)
	}
	return s.attach(p, fd, tok, Idle)
}

// Attach 接管一个已连接的 socket（通常来自 accept4），并确保其为非阻塞。
// 设置选项或注册失败时 fd 会被关闭。
func (s *Stream) Attach(p poller.Poller, fd int, tok poller.Token) error {
	if s.state != Idle || s.open {
		return fmt.Errorf("%w: attach in %s", ErrState, s.state)
	}
	if err := netutil.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("tcp: set nonblock: %w", err)
	}
	if err := netutil.SetNoDelay(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("tcp: set nodelay: %w", err)
	}
	return s.attach(p, fd, tok, Connected)
}

func (s *Stream) attach(p poller.Poller, fd int, tok poller.Token, st State) error {
	s.h = poller.Handle{FD: fd}
	if err := p.Register(&s.h, tok, 0); err != nil {
		unix.Close(fd)
		return err
	}
	s.p, s.open, s.state = p, true, st
	return nil
}

// StartConnect 发起非阻塞连接，结果在可写就绪后由 FinishConnect 读取。
func (s *Stream) StartConnect(addr netip.AddrPort) error {
	if s.state != Idle || !s.open {
		return fmt.Errorf("%w: connect in %s", ErrState, s.state)
	}
	sa, err := netutil.Sockaddr(addr)
	if err != nil {
		return err
	}
	err = unix.Connect(s.h.FD, sa)
	if err != nil && err != unix.EINPROGRESS {
		return &ConnectError{Addr: addr.String(), Err: err}
	}
	s.remote = addr
	s.state = Connecting
	return s.updateInterest()
}

func (s *Stream) FinishConnect() error {
	if s.state != Connecting {
		return fmt.Errorf("%w: finish connect in %s", ErrState, s.state)
	}
	errno, err := netutil.SocketError(s.h.FD)
	if err != nil {
		return fmt.Errorf("tcp: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return &ConnectError{Addr: s.remote.String(), Err: errno}
	}
	s.state = Connected
	return s.updateInterest()
}

// StartSend 把 b 整体追加到发送缓冲并关注可写；空间不足时返回 ErrBufferFull 且不写入。
func (s *Stream) StartSend(b []byte) error {
	if s.state != Connected && s.state != Connecting {
		return fmt.Errorf("%w: send in %s", ErrState, s.state)
	}
	if _, err := s.out.Write(b); err != nil {
		return ErrBufferFull
	}
	return s.updateInterest()
}

// Flush 尽量写出发送缓冲，直到写完或内核返回 EAGAIN。
func (s *Stream) Flush() error {
	if s.state == Connecting {
		return nil
	}
	if s.state != Connected {
		return fmt.Errorf("%w: flush in %s", ErrState, s.state)
	}
	for s.out.Len() > 0 {
		n, err := unix.SendmsgN(s.h.FD, s.out.Bytes(), nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return fmt.Errorf("tcp: send: %w", err)
		}
		s.out.Discard(n)
	}
	return s.updateInterest()
}

func (s *Stream) StartRecv() error {
	if s.state == Closed || !s.open {
		return fmt.Errorf("%w: recv in %s", ErrState, s.state)
	}
	s.reading = true
	return s.updateInterest()
}

// Recv 读到接收缓冲满或 EAGAIN，返回本次新读入的字节数；对端有序关闭时返回 io.EOF。
func (s *Stream) Recv() (int, error) {
	if s.state != Connected {
		return 0, fmt.Errorf("%w: recv in %s", ErrState, s.state)
	}
	total := 0
	for !s.in.Full() {
		n, err := unix.Read(s.h.FD, s.in.Space())
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("tcp: read: %w", err)
		}
		if n == 0 {
			return total, io.EOF
		}
		s.in.Commit(n)
		total += n
	}
	return total, nil
}

// Input 返回尚未消费的接收数据。
func (s *Stream) Input() []byte { return s.in.Bytes() }

func (s *Stream) Consume(n int) error {
	if n < 0 || n > s.in.Len() {
		return ErrConsume
	}
	s.in.Discard(n)
	return nil
}

func (s *Stream) Received() int { return s.in.Len() }

func (s *Stream) Pending() int { return s.out.Len() }

// Full 表示接收缓冲已满，需要先 Consume 才能继续读。
func (s *Stream) Full() bool { return s.in.Full() }

func (s *Stream) updateInterest() error {
	var in poller.Interest
	if s.reading {
		in |= poller.Readable
	}
	if s.out.Len() > 0 || s.state == Connecting {
		in |= poller.Writable
	}
	return s.p.Update(&s.h, in)
}

// Close 注销并关闭 fd，丢弃未发送的数据。可重复调用。
func (s *Stream) Close() error {
	if s.state == Closed {
		return nil
	}
	var err error
	if s.h.Registered() {
		err = s.p.Deregister(&s.h)
	}
	if s.open {
		if cerr := unix.Close(s.h.FD); err == nil && cerr != nil {
			err = fmt.Errorf("tcp: close: %w", cerr)
		}
		s.open = false
	}
	s.state, s.reading = Closed, false
	s.in.Reset()
	s.out.Reset()
	return err
}
