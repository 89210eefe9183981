//go:build linux

package poller

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	efd int
	wfd int // eventfd for wakeup
	raw []unix.EpollEvent
}

func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, fmt.Errorf("poller: eventfd: %w", err)
	}
	p := &epollPoller{efd: efd, wfd: wfd}
	// 注册 wakeup fd
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wfd), Pad: Token{Kind: kindWake}.pack()}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, fmt.Errorf("poller: register eventfd: %w", err)
	}
	return p, nil
}

func toEpoll(in Interest) uint32 {
	var flag uint32 = unix.EPOLLET
	if in&Readable != 0 {
		flag |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&Writable != 0 {
		flag |= unix.EPOLLOUT
	}
	return flag
}

func fromEpoll(events uint32) Interest {
	var in Interest
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		in |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		in |= Writable
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		in |= Readable | Writable
	}
	return in
}

func (p *epollPoller) Register(h *Handle, tok Token, in Interest) error {
	if h.registered {
		return fmt.Errorf("%w: fd %d", ErrAlreadyRegistered, h.FD)
	}
	ev := unix.EpollEvent{Events: toEpoll(in), Fd: int32(h.FD), Pad: tok.pack()}
	if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, h.FD, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl add fd %d: %w", h.FD, err)
	}
	h.interest, h.token, h.registered = in, tok, true
	return nil
}

func (p *epollPoller) Update(h *Handle, in Interest) error {
	if !h.registered {
		return fmt.Errorf("%w: fd %d", ErrNotRegistered, h.FD)
	}
	if h.interest == in {
		return nil
	}
	ev := unix.EpollEvent{Events: toEpoll(in), Fd: int32(h.FD), Pad: h.token.pack()}
	if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_MOD, h.FD, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod fd %d: %w", h.FD, err)
	}
	h.interest = in
	return nil
}

func (p *epollPoller) Deregister(h *Handle) error {
	if !h.registered {
		return fmt.Errorf("%w: fd %d", ErrNotRegistered, h.FD)
	}
	h.registered, h.interest = false, 0
	if err := unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, h.FD, nil); err != nil {
		return fmt.Errorf("poller: epoll_ctl del fd %d: %w", h.FD, err)
	}
	return nil
}

func (p *epollPoller) Poll(events []Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	n, err := unix.EpollWait(p.efd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		tok := unpack(raw[i].Pad)
		if tok.Kind == kindWake {
			p.drainWake()
			continue
		}
		events[out] = Event{Ready: fromEpoll(raw[i].Events), Token: tok}
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wfd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}
