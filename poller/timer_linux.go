//go:build linux

package poller

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer 是基于 timerfd 的周期定时器，可读即表示至少到期一次。
type Timer struct {
	h Handle
}

func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: timerfd_create: %w", err)
	}
	return &Timer{h: Handle{FD: fd}}, nil
}

func (t *Timer) Handle() *Handle { return &t.h }

// Arm 设置首次到期与周期均为 period；period 为 0 时停止定时器。
func (t *Timer) Arm(period time.Duration) error {
	ts := unix.NsecToTimespec(int64(period))
	spec := unix.ItimerSpec{Interval: ts, Value: ts}
	if err := unix.TimerfdSettime(t.h.FD, 0, &spec, nil); err != nil {
		return fmt.Errorf("poller: timerfd_settime: %w", err)
	}
	return nil
}

// Drain 读出自上次读取以来的到期次数，没有到期时返回 0。
func (t *Timer) Drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.h.FD, buf[:])
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("poller: read timerfd: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("poller: short timerfd read (%d bytes)", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Close 关闭 fd；若仍在 poller 中注册，调用方应先 Deregister。
func (t *Timer) Close() error {
	return unix.Close(t.h.FD)
}
