// Package client 是协议客户端：与服务端相同的 poller + Stream 驱动，
// 由调用方在自己的 goroutine 里反复 Poll。供机器人与集成测试使用。
package client

import (
	"errors"

	"github.com/legamerdc/pong/poller"
)

var (
	ErrPlatformNotSupported = poller.ErrPlatformNotSupported
	ErrTimeout              = errors.New("client: timed out waiting for message")
	ErrClosed               = errors.New("client: closed")
)
