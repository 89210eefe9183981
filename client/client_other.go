//go:build !linux

package client

import (
	"net/netip"
	"time"

	"github.com/legamerdc/pong/protocol"
	"github.com/legamerdc/pong/tcp"
)

type Client struct{}

func Dial(addr netip.AddrPort) (*Client, error) { return nil, ErrPlatformNotSupported }

func (c *Client) State() tcp.State { return tcp.Closed }

func (c *Client) Pending() int { return 0 }

func (c *Client) Send(m protocol.ClientMessage) error { return ErrPlatformNotSupported }

func (c *Client) Poll(timeout time.Duration) ([]protocol.ServerMessage, error) {
	return nil, ErrPlatformNotSupported
}

func (c *Client) Next(timeout time.Duration) (protocol.ServerMessage, error) {
	return nil, ErrPlatformNotSupported
}

func (c *Client) Close() error { return nil }

func (c *Client) Closed() bool { return false }
