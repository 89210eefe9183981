// Package tcp 在 poller 之上提供非阻塞的 Stream 与 Listener。
// 所有方法只在事件循环所在的 goroutine 中调用；缓冲区定长内嵌，收发路径不做堆分配。
package tcp

import (
	"errors"
	"fmt"
)

var (
	ErrBufferFull = errors.New("tcp: send buffer full")
	ErrState      = errors.New("tcp: operation invalid in current state")
	ErrConsume    = errors.New("tcp: consume beyond received bytes")
)

// State 是 Stream 的连接状态。
type State uint8

const (
	Idle State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ConnectError 表示非阻塞 connect 的最终失败（SO_ERROR 非零）。
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("tcp: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
