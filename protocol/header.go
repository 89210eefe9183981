package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 帧格式：
//   [u16 total_length][u16 message_id][payload]
// total_length 含 4 字节头部。所有定长字段按本机字节序原样拷贝，不做转换，
// 客户端与服务端必须使用相同的表示。

const (
	HeaderSize     = 4
	MaxMessageSize = 256
	// MaxPasswordSize 含结尾 NUL
	MaxPasswordSize = 32
	// MaxIPSize 含结尾 NUL，足够容纳 IPv6 文本
	MaxIPSize = 46
)

var (
	ErrUnknownMessage = errors.New("protocol: unknown message id")
	ErrLength         = errors.New("protocol: payload length mismatch")
	ErrUnterminated   = errors.New("protocol: string field not NUL-terminated")
	ErrFieldTooLong   = errors.New("protocol: string field too long")
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds max message size")
	ErrInvalidField   = errors.New("protocol: invalid field value")
)

// FrameError 描述一个结构非法的帧。
type FrameError struct {
	ID     MessageID
	Length int
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("protocol: frame %s (len=%d): %v", e.ID, e.Length, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Header 是帧头。
type Header struct {
	Length uint16
	ID     MessageID
}

// ReadHeader 从 b 解析帧头；不足 4 字节时 ok 为 false。
func ReadHeader(b []byte) (h Header, ok bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	h.Length = binary.NativeEndian.Uint16(b[0:2])
	h.ID = MessageID(binary.NativeEndian.Uint16(b[2:4]))
	return h, true
}

func PutHeader(b []byte, h Header) {
	binary.NativeEndian.PutUint16(b[0:2], h.Length)
	binary.NativeEndian.PutUint16(b[2:4], uint16(h.ID))
}

// frame 返回一个完整帧的头与负载。数据不足时 ok 为 false 且 err 为 nil。
func frame(b []byte) (h Header, body []byte, ok bool, err error) {
	h, ok = ReadHeader(b)
	if !ok {
		return h, nil, false, nil
	}
	n := int(h.Length)
	switch {
	case n > MaxMessageSize:
		return h, nil, false, &FrameError{ID: h.ID, Length: n, Err: ErrFrameTooLarge}
	case n < HeaderSize:
		return h, nil, false, &FrameError{ID: h.ID, Length: n, Err: ErrLength}
	case n > len(b):
		return h, nil, false, nil
	}
	return h, b[HeaderSize:n], true, nil
}
