package server

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/legamerdc/pong/poller"
)

var ErrInvalidConfig = errors.New("server: invalid config")

// TickPolicy 决定一次定时器唤醒推进几步物理。
type TickPolicy string

const (
	// TickSingle 每次唤醒只推进一步，多余的到期次数被丢弃
	TickSingle TickPolicy = "single"
	// TickCatchUp 按到期次数补步，最多 MaxCatchUp 步
	TickCatchUp TickPolicy = "catchup"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config 为服务端配置。
type Config struct {
	Address        string        `yaml:"address"`         // 监听地址，如 "0.0.0.0:1337"
	MaxConnections int           `yaml:"max_connections"` // 连接池容量
	MaxLobbies     int           `yaml:"max_lobbies"`     // 房间池容量
	TickPeriod     time.Duration `yaml:"tick_period"`     // 物理步长
	TickPolicy     TickPolicy    `yaml:"tick_policy"`
	MaxCatchUp     int           `yaml:"max_catch_up"`
	PollTimeout    time.Duration `yaml:"poll_timeout"` // 单次 Poll 的最长阻塞时间
	MaxEvents      int           `yaml:"max_events"`   // 单批最多处理的事件数
	Backlog        int           `yaml:"backlog"`
	ReplayDir      string        `yaml:"replay_dir"`       // 为空时不录制
	ReplayMaxBytes int           `yaml:"replay_max_bytes"` // 单局录制上限
	Log            LogConfig     `yaml:"log"`
}

// DefaultConfig 提供一组可工作的默认值。
func DefaultConfig() Config {
	return Config{
		Address:        "0.0.0.0:1337",
		MaxConnections: 32,
		MaxLobbies:     16,
		TickPeriod:     16 * time.Millisecond,
		TickPolicy:     TickSingle,
		MaxCatchUp:     4,
		PollTimeout:    100 * time.Millisecond,
		MaxEvents:      64,
		Backlog:        128,
		ReplayMaxBytes: 1 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 以 DefaultConfig 为底读取 YAML 文件，文件中出现的字段覆盖默认值。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	invalid := func(field string, v any) error {
		return fmt.Errorf("%w: %s = %v", ErrInvalidConfig, field, v)
	}
	if _, err := netip.ParseAddrPort(c.Address); err != nil {
		return fmt.Errorf("%w: address: %v", ErrInvalidConfig, err)
	}
	if c.MaxConnections <= 0 || c.MaxConnections > poller.MaxIndex {
		return invalid("max_connections", c.MaxConnections)
	}
	if c.MaxLobbies <= 0 || c.MaxLobbies > math.MaxInt32 {
		return invalid("max_lobbies", c.MaxLobbies)
	}
	if c.TickPeriod < time.Millisecond {
		return invalid("tick_period", c.TickPeriod)
	}
	switch c.TickPolicy {
	case TickSingle, TickCatchUp:
	default:
		return invalid("tick_policy", c.TickPolicy)
	}
	if c.MaxCatchUp <= 0 {
		return invalid("max_catch_up", c.MaxCatchUp)
	}
	if c.PollTimeout <= 0 {
		return invalid("poll_timeout", c.PollTimeout)
	}
	if c.MaxEvents <= 0 {
		return invalid("max_events", c.MaxEvents)
	}
	if c.Backlog <= 0 {
		return invalid("backlog", c.Backlog)
	}
	if c.ReplayDir != "" && c.ReplayMaxBytes <= 0 {
		return invalid("replay_max_bytes", c.ReplayMaxBytes)
	}
	return nil
}

// steps 返回定时器到期 expirations 次后应推进的物理步数。
func (c Config) steps(expirations uint64) uint64 {
	if expirations == 0 {
		return 0
	}
	if c.TickPolicy == TickCatchUp {
		return min(expirations, uint64(c.MaxCatchUp))
	}
	return 1
}
