// Package server 是权威对战服务端：单线程事件循环驱动连接、房间与定时物理步进。
package server

import (
	"errors"

	"github.com/legamerdc/pong/poller"
)

var (
	ErrPlatformNotSupported = poller.ErrPlatformNotSupported
	ErrServerClosed         = errors.New("server: closed")
	// ErrInvariant 表示连接与房间的关联被破坏，只影响出问题的连接
	ErrInvariant = errors.New("server: lobby membership invariant violated")

	errConnectionGone = errors.New("server: connection torn down while handling message")
)
