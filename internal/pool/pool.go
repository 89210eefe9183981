// Package pool 提供固定容量的对象池：一次性分配底层数组，
// 以空闲链表 O(1) 获取/归还，并用位图记录哪些槽位存活。
// 仅在 poller 线程中使用，不做并发保护。
package pool

import (
	"errors"
	"iter"
	"math/bits"
	"unsafe"
)

var (
	// ErrExhausted 空闲链表为空
	ErrExhausted = errors.New("pool: exhausted")
	// ErrForeign 对象不属于本池或已被归还
	ErrForeign = errors.New("pool: object not live in this pool")
)

const nilSlot int32 = -1

// Pool 是 T 的固定容量分配器。
// 不变式：槽位 i 在空闲链表中 <=> 位图第 i 位为 0。
type Pool[T any] struct {
	slots    []T
	elemSize uintptr
	next     []int32  // 空闲链表：槽位 -> 下一个空闲槽位
	free     int32    // 空闲链表头
	live     []uint64 // 存活位图
	n        int
}

// New 创建容量为 capacity 个对象的池。
func New[T any](capacity int) *Pool[T] {
	if capacity <= 0 {
		panic("pool: capacity must be positive")
	}
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		panic("pool: zero-sized element type")
	}
	p := &Pool[T]{
		slots:    make([]T, capacity),
		elemSize: size,
		next:     make([]int32, capacity),
		live:     make([]uint64, (capacity+63)/64),
	}
	for i := range p.next {
		p.next[i] = int32(i + 1)
	}
	p.next[capacity-1] = nilSlot
	p.free = 0
	return p
}

// NewBudget 按字节预算创建池：每个槽位占用 sizeof(T) 字节加 1 位存活标记。
func NewBudget[T any](capacityBytes int) *Pool[T] {
	return New[T](CapacityFor[T](capacityBytes))
}

// CapacityFor 返回 capacityBytes 字节能容纳的 T 的数量（含位图开销）。
func CapacityFor[T any](capacityBytes int) int {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || capacityBytes <= 0 {
		return 0
	}
	return capacityBytes * 8 / (size*8 + 1)
}

// Acquire 弹出空闲链表头并置位。
func (p *Pool[T]) Acquire() (*T, error) {
	if p.free == nilSlot {
		return nil, ErrExhausted
	}
	i := p.free
	p.free = p.next[i]
	p.next[i] = nilSlot
	p.setLive(int(i), true)
	p.n++
	return &p.slots[i], nil
}

// Release 清零对象、压回空闲链表并清位。
func (p *Pool[T]) Release(obj *T) error {
	i := p.IndexOf(obj)
	if i < 0 || !p.isLive(i) {
		return ErrForeign
	}
	var zero T
	p.slots[i] = zero
	p.setLive(i, false)
	p.next[i] = p.free
	p.free = int32(i)
	p.n--
	return nil
}

// Contains 校验地址范围、对齐与存活位。已归还的悬空句柄返回 false。
func (p *Pool[T]) Contains(obj *T) bool {
	i := p.IndexOf(obj)
	return i >= 0 && p.isLive(i)
}

// IndexOf 返回 obj 的槽位下标；不在本池范围内或未对齐到槽位边界时返回 -1。
// 不检查存活。
func (p *Pool[T]) IndexOf(obj *T) int {
	if obj == nil {
		return -1
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.slots)))
	addr := uintptr(unsafe.Pointer(obj))
	if addr < base || addr >= base+p.elemSize*uintptr(len(p.slots)) {
		return -1
	}
	off := addr - base
	if off%p.elemSize != 0 {
		return -1
	}
	return int(off / p.elemSize)
}

// Live 返回下标 i 处的存活对象。
func (p *Pool[T]) Live(i int) (*T, bool) {
	if i < 0 || i >= len(p.slots) || !p.isLive(i) {
		return nil, false
	}
	return &p.slots[i], true
}

// First 返回第一个存活对象，没有则 nil。
func (p *Pool[T]) First() *T {
	return p.at(p.scan(0))
}

// Next 返回 obj 之后的下一个存活对象。obj 本身可以已被归还。
func (p *Pool[T]) Next(obj *T) *T {
	i := p.IndexOf(obj)
	if i < 0 {
		return nil
	}
	return p.at(p.scan(i + 1))
}

// All 按下标顺序遍历存活对象。遍历中归还当前对象是安全的。
func (p *Pool[T]) All() iter.Seq2[int, *T] {
	return func(yield func(int, *T) bool) {
		for i := p.scan(0); i >= 0; i = p.scan(i + 1) {
			if !yield(i, &p.slots[i]) {
				return
			}
		}
	}
}

func (p *Pool[T]) Len() int   { return p.n }
func (p *Pool[T]) Cap() int   { return len(p.slots) }
func (p *Pool[T]) Full() bool { return p.free == nilSlot }

func (p *Pool[T]) at(i int) *T {
	if i < 0 {
		return nil
	}
	return &p.slots[i]
}

// scan 从 start 开始找第一个置位的槽位，按 64 位字跳过空段。
func (p *Pool[T]) scan(start int) int {
	if start >= len(p.slots) {
		return -1
	}
	w := start / 64
	word := p.live[w] &^ (1<<(uint(start)%64) - 1)
	for {
		if word != 0 {
			i := w*64 + bits.TrailingZeros64(word)
			if i >= len(p.slots) {
				return -1
			}
			return i
		}
		w++
		if w >= len(p.live) {
			return -1
		}
		word = p.live[w]
	}
}

func (p *Pool[T]) isLive(i int) bool {
	return p.live[i/64]&(1<<(uint(i)%64)) != 0
}

func (p *Pool[T]) setLive(i int, on bool) {
	if on {
		p.live[i/64] |= 1 << (uint(i) % 64)
	} else {
		p.live[i/64] &^= 1 << (uint(i) % 64)
	}
}
