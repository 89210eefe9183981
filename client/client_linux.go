//go:build linux

package client

import (
	"errors"
	"io"
	"net/netip"
	"time"

	"github.com/legamerdc/pong/poller"
	"github.com/legamerdc/pong/protocol"
	"github.com/legamerdc/pong/tcp"
)

var streamToken = poller.Token{Kind: poller.KindStream}

// Client 持有一个独占的 poller 与一条连接。非并发安全。
type Client struct {
	p      poller.Poller
	stream tcp.Stream
	events [4]poller.Event
	buf    [protocol.MaxMessageSize]byte
	queue  []protocol.ServerMessage
	err    error // 连接终止的原因，之后的 Poll 直接返回
}

// Dial 发起非阻塞连接并立即返回；连接在后续 Poll 中完成。
// 连接完成前 Send 的消息会排队，连上后写出。
func Dial(addr netip.AddrPort) (*Client, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	c := &Client{p: p}
	if err := c.stream.Open(p, streamToken, addr.Addr().Is6() && !addr.Addr().Is4In6()); err != nil {
		p.Close()
		return nil, err
	}
	if err := c.stream.StartConnect(addr); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.stream.StartRecv(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) State() tcp.State { return c.stream.State() }

// Pending 返回已排队、尚未写出的字节数。
func (c *Client) Pending() int { return c.stream.Pending() }

func (c *Client) Send(m protocol.ClientMessage) error {
	if c.err != nil {
		return c.err
	}
	n, err := protocol.EncodeClient(c.buf[:], m)
	if err != nil {
		return err
	}
	return c.stream.StartSend(c.buf[:n])
}

// Poll 最多等待 timeout，处理就绪事件并返回收到的消息。timeout 为负时一直等待。
// 对端关闭时返回已解析出的消息与 io.EOF。
func (c *Client) Poll(timeout time.Duration) ([]protocol.ServerMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := c.p.Poll(c.events[:], ms)
	if err != nil {
		return nil, err
	}
	var out []protocol.ServerMessage
	for _, ev := range c.events[:n] {
		if ev.Token != streamToken {
			continue
		}
		if ev.Ready&poller.Writable != 0 {
			if err := c.onWritable(); err != nil {
				return out, c.fail(err)
			}
		}
		if ev.Ready&poller.Readable != 0 && c.stream.State() == tcp.Connected {
			msgs, err := c.onReadable()
			out = append(out, msgs...)
			if err != nil {
				return out, c.fail(err)
			}
		}
	}
	return out, nil
}

func (c *Client) onWritable() error {
	if c.stream.State() == tcp.Connecting {
		if err := c.stream.FinishConnect(); err != nil {
			return err
		}
	}
	return c.stream.Flush()
}

func (c *Client) onReadable() ([]protocol.ServerMessage, error) {
	var out []protocol.ServerMessage
	for {
		_, rerr := c.stream.Recv()
		full := c.stream.Full()
		n, perr := protocol.ParseServer(c.stream.Input(), func(m protocol.ServerMessage) error {
			out = append(out, m)
			return nil
		})
		if perr != nil {
			return out, perr
		}
		if err := c.stream.Consume(n); err != nil {
			return out, err
		}
		if rerr != nil {
			return out, rerr
		}
		if !full {
			return out, nil
		}
	}
}

func (c *Client) fail(err error) error {
	c.err = err
	_ = c.stream.Close()
	return err
}

// Next 返回下一条消息，最多等待 timeout。
func (c *Client) Next(timeout time.Duration) (protocol.ServerMessage, error) {
	deadline := time.Now().Add(timeout)
	for len(c.queue) == 0 {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, ErrTimeout
		}
		msgs, err := c.Poll(min(left, 10*time.Millisecond))
		c.queue = append(c.queue, msgs...)
		if err != nil && len(c.queue) == 0 {
			return nil, err
		}
		if err != nil {
			break
		}
	}
	m := c.queue[0]
	c.queue = c.queue[1:]
	return m, nil
}

// Close 关闭连接与 poller。可重复调用。
func (c *Client) Close() error {
	err := c.stream.Close()
	if c.p != nil {
		err = errors.Join(err, c.p.Close())
		c.p = nil
	}
	if c.err == nil {
		c.err = ErrClosed
	}
	return err
}

// Closed 报告连接是否因对端关闭而结束。
func (c *Client) Closed() bool { return errors.Is(c.err, io.EOF) }
