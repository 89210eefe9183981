package netbuf

import (
	"errors"
)

var ErrTooLarge = errors.New("netbuf: write too large")

// Size 为每个方向的缓冲容量，远大于协议最大帧。
const Size = 512

// Buffer 是定长的线性字节缓冲，内嵌在连接对象中，热路径上不做堆分配。
// 读端总是从下标 0 开始，Discard 时左移剩余数据，保证 Bytes() 连续，
// 便于直接按帧解码。
// 为简化，本实现以调用方控制并发；在 poller 线程中使用。
type Buffer struct {
	buf [Size]byte
	n   int
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) Free() int { return b.Cap() - b.n }

func (b *Buffer) Full() bool { return b.n == len(b.buf) }

// Bytes 返回未消费的数据视图，在下一次 Write/Discard 前有效。
func (b *Buffer) Bytes() []byte { return b.buf[:b.n] }

// Space 返回尾部可写区域，配合 Commit 直接承接 read(2)。
func (b *Buffer) Space() []byte { return b.buf[b.n:] }

// Commit 确认 Space 中新写入的 n 字节。
func (b *Buffer) Commit(n int) {
	if n < 0 || n > b.Free() {
		panic("netbuf: commit out of range")
	}
	b.n += n
}

// Write 整体追加 p；剩余空间不足时不写入任何字节并返回错误。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrTooLarge
	}
	copy(b.buf[b.n:], p)
	b.n += len(p)
	return len(p), nil
}

// Discard 丢弃前 n 字节并把剩余部分移到开头。
func (b *Buffer) Discard(n int) int {
	if n > b.n {
		n = b.n
	}
	if n <= 0 {
		return 0
	}
	copy(b.buf[:], b.buf[n:b.n])
	b.n -= n
	return n
}

func (b *Buffer) Reset() { b.n = 0 }
