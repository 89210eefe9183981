// Package replay 记录每局对战中广播给房主的帧，房间关闭时压缩写盘。
// 录像只用于回放和排查，服务端从不读回。
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/legamerdc/pong/protocol"
)

// FileExt 是录像文件的扩展名。
const FileExt = ".pong.zst"

var ErrTrailingData = errors.New("replay: trailing partial frame")

// Recording 是一局的内存帧缓冲，nil 时所有方法为空操作。
type Recording struct {
	Match     uuid.UUID
	Started   time.Time
	buf       []byte
	limit     int
	frames    int
	truncated bool
}

// Append 追加一帧；超过上限后停止记录并标记截断。
func (r *Recording) Append(m protocol.ServerMessage) {
	if r == nil || r.truncated {
		return
	}
	before := len(r.buf)
	b, err := protocol.AppendServer(r.buf, m)
	if err != nil {
		return
	}
	if len(b) > r.limit {
		r.buf = b[:before]
		r.truncated = true
		return
	}
	r.buf = b
	r.frames++
}

func (r *Recording) Frames() int {
	if r == nil {
		return 0
	}
	return r.frames
}

func (r *Recording) Truncated() bool { return r != nil && r.truncated }

// Recorder 管理录像目录与后台写盘。nil Recorder 表示未开启录制。
type Recorder struct {
	dir   string
	limit int
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewRecorder(dir string, limit int, logger *slog.Logger) (*Recorder, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("replay: invalid size limit %d", limit)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{dir: dir, limit: limit, log: logger}, nil
}

// Begin 为一局新对战创建录像缓冲。
func (r *Recorder) Begin(match uuid.UUID) *Recording {
	if r == nil {
		return nil
	}
	return &Recording{
		Match:   match,
		Started: time.Now(),
		buf:     make([]byte, 0, min(r.limit, 4096)),
		limit:   r.limit,
	}
}

func (r *Recorder) Path(match uuid.UUID) string {
	return filepath.Join(r.dir, match.String()+FileExt)
}

// Save 在后台压缩写盘，调用后 rec 归 Recorder 所有。空录像直接丢弃。
func (r *Recorder) Save(rec *Recording) {
	if r == nil || rec == nil || rec.frames == 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		path := r.Path(rec.Match)
		if err := writeFile(path, rec.buf); err != nil {
			r.log.Error("replay save failed", "match", rec.Match, "error", err)
			return
		}
		r.log.Info("replay saved",
			"match", rec.Match,
			"frames", rec.frames,
			"truncated", rec.truncated,
			"duration", time.Since(rec.Started),
			"path", path)
	}()
}

// Close 等待所有后台写盘结束。
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// 录像帧高度重复，用较高压缩级别；编解码器按需复用，每个实例同一时刻只被一个 goroutine 使用。
var (
	encoders = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return err
		}
		return enc
	}}
	decoders = sync.Pool{New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxDecoded))
		if err != nil {
			return err
		}
		return dec
	}}
)

// maxDecoded 限制单个录像解压后的大小。
const maxDecoded = 64 << 20

func compress(frames []byte) ([]byte, error) {
	switch v := encoders.Get().(type) {
	case *zstd.Encoder:
		defer encoders.Put(v)
		return v.EncodeAll(frames, make([]byte, 0, len(frames)/4)), nil
	case error:
		return nil, fmt.Errorf("replay: zstd encoder: %w", v)
	}
	return nil, errors.New("replay: zstd encoder unavailable")
}

func decompress(data []byte) ([]byte, error) {
	switch v := decoders.Get().(type) {
	case *zstd.Decoder:
		defer decoders.Put(v)
		return v.DecodeAll(data, nil)
	case error:
		return nil, fmt.Errorf("replay: zstd decoder: %w", v)
	}
	return nil, errors.New("replay: zstd decoder unavailable")
}

func writeFile(path string, frames []byte) error {
	data, err := compress(frames)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 读取录像文件并解码出全部帧。
func Load(path string) ([]protocol.ServerMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}
	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("replay: decompress: %w", err)
	}

	var out []protocol.ServerMessage
	n, err := protocol.ParseServer(raw, func(m protocol.ServerMessage) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay: decode frames: %w", err)
	}
	if n != len(raw) {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTrailingData, len(raw)-n)
	}
	return out, nil
}
