// Package poller 是单线程就绪反应器：fd 以边沿触发注册，
// 事件携带 Token 直接定位到所属对象（监听器、定时器或连接池下标）。
package poller

import (
	"errors"
	"strings"
)

var (
	ErrPlatformNotSupported = errors.New("poller: platform not supported (requires Linux/epoll)")
	ErrNotRegistered        = errors.New("poller: handle not registered")
	ErrAlreadyRegistered    = errors.New("poller: handle already registered")
)

// FD 表示文件描述符。
type FD = int

// Interest 是关注的就绪类型集合。
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "r")
	}
	if i&Writable != 0 {
		parts = append(parts, "w")
	}
	return strings.Join(parts, "|")
}

// Kind 标识事件的拥有者类型。
type Kind uint8

const (
	KindListener Kind = iota + 1
	KindTimer
	KindConnection
	KindStream

	kindWake Kind = 0xff
)

func (k Kind) String() string {
	switch k {
	case KindListener:
		return "listener"
	case KindTimer:
		return "timer"
	case KindConnection:
		return "connection"
	case KindStream:
		return "stream"
	case kindWake:
		return "wake"
	}
	return "unknown"
}

// MaxIndex 是 Token 能携带的最大下标。
const MaxIndex = 1<<24 - 1

// Token 随 fd 注册，事件返回时原样带回。
type Token struct {
	Kind  Kind
	Index uint32
}

func (t Token) pack() int32 {
	return int32(uint32(t.Kind)<<24 | t.Index&MaxIndex)
}

func unpack(v int32) Token {
	u := uint32(v)
	return Token{Kind: Kind(u >> 24), Index: u & MaxIndex}
}

// Handle 是被注册的 fd 及其当前关注集合，由 Stream / Listener / Timer 内嵌持有。
type Handle struct {
	FD         FD
	interest   Interest
	token      Token
	registered bool
}

func (h *Handle) Interest() Interest { return h.interest }

func (h *Handle) Token() Token { return h.token }

func (h *Handle) Registered() bool { return h.registered }

// Event 是一次就绪通知。错误和挂断以 Readable|Writable 上报，
// 由拥有者在读/写路径上拿到具体错误。
type Event struct {
	Ready Interest
	Token Token
}

// Poller 提供注册与单次等待，事件分发由调用方的循环负责。
type Poller interface {
	Register(h *Handle, tok Token, in Interest) error
	// Update 修改关注集合；未变化时不做系统调用。
	Update(h *Handle, in Interest) error
	Deregister(h *Handle) error
	// Poll 等待就绪事件并写入 events。timeoutMs 为 0 时不阻塞，负数时无限等待。
	// 被信号中断时返回 0 个事件。
	Poll(events []Event, timeoutMs int) (int, error)
	// Wake 可在任意 goroutine 调用，使阻塞中的 Poll 返回。
	Wake() error
	Close() error
}
