package pool_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/pong/internal/pool"
)

type item struct {
	a, b int64
}

func TestPool_AcquireRelease(t *testing.T) {
	p := pool.New[item](4)
	require.Equal(t, 4, p.Cap())

	var got []*item
	for i := 0; i < 4; i++ {
		h, err := p.Acquire()
		require.NoError(t, err)
		assert.True(t, p.Contains(h))
		got = append(got, h)
	}
	assert.True(t, p.Full())

	_, err := p.Acquire()
	assert.ErrorIs(t, err, pool.ErrExhausted)

	require.NoError(t, p.Release(got[2]))
	assert.False(t, p.Contains(got[2]), "released handle must be rejected")
	assert.ErrorIs(t, p.Release(got[2]), pool.ErrForeign)
	assert.Equal(t, 3, p.Len())

	h, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, got[2], h, "freed slot is reused first")
}

func TestPool_ReleaseZeroesSlot(t *testing.T) {
	p := pool.New[item](1)
	h, err := p.Acquire()
	require.NoError(t, err)
	h.a, h.b = 7, 9
	require.NoError(t, p.Release(h))

	h, err = p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, item{}, *h)
}

func TestPool_ContainsRejectsForeign(t *testing.T) {
	p := pool.New[item](2)
	other := pool.New[item](2)

	h, err := p.Acquire()
	require.NoError(t, err)
	o, err := other.Acquire()
	require.NoError(t, err)

	assert.False(t, p.Contains(o))
	assert.False(t, p.Contains(&item{}))
	assert.False(t, p.Contains(nil))
	assert.Equal(t, -1, p.IndexOf(o))

	// 落在范围内但不在槽位边界上
	mid := (*item)(unsafe.Add(unsafe.Pointer(h), unsafe.Sizeof(int64(0))))
	assert.False(t, p.Contains(mid))
	assert.Equal(t, -1, p.IndexOf(mid))
	assert.ErrorIs(t, p.Release(mid), pool.ErrForeign)
}

func TestPool_IndexBijection(t *testing.T) {
	const capacity = 70 // 跨越两个位图字
	p := pool.New[item](capacity)
	rng := rand.New(rand.NewSource(1))

	live := map[*item]int{}
	for step := 0; step < 5000; step++ {
		if len(live) < capacity && (len(live) == 0 || rng.Intn(3) != 0) {
			h, err := p.Acquire()
			require.NoError(t, err)
			_, dup := live[h]
			require.False(t, dup, "acquire returned a live slot twice")
			live[h] = p.IndexOf(h)
		} else {
			for h := range live {
				require.NoError(t, p.Release(h))
				delete(live, h)
				break
			}
		}

		require.Equal(t, len(live), p.Len())
		seen := map[int]bool{}
		for h, idx := range live {
			require.True(t, p.Contains(h))
			require.Equal(t, idx, p.IndexOf(h))
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, capacity)
			require.False(t, seen[idx])
			seen[idx] = true
		}
	}
}

func TestPool_Iteration(t *testing.T) {
	p := pool.New[item](130)
	var hs []*item
	for i := 0; i < 130; i++ {
		h, err := p.Acquire()
		require.NoError(t, err)
		hs = append(hs, h)
	}
	for i, h := range hs {
		if i%3 != 0 {
			require.NoError(t, p.Release(h))
		}
	}

	var walked []int
	for h := p.First(); h != nil; h = p.Next(h) {
		walked = append(walked, p.IndexOf(h))
	}
	var ranged []int
	for i := range p.All() {
		ranged = append(ranged, i)
	}

	var want []int
	for i := 0; i < 130; i += 3 {
		want = append(want, i)
	}
	assert.Equal(t, want, walked)
	assert.Equal(t, want, ranged)

	// 遍历时归还当前对象
	for _, h := range p.All() {
		require.NoError(t, p.Release(h))
	}
	assert.Nil(t, p.First())
	assert.Zero(t, p.Len())
}

func TestPool_Live(t *testing.T) {
	p := pool.New[item](3)
	h, err := p.Acquire()
	require.NoError(t, err)

	got, ok := p.Live(p.IndexOf(h))
	assert.True(t, ok)
	assert.Same(t, h, got)

	for _, i := range []int{-1, 1, 3, 100} {
		_, ok := p.Live(i)
		assert.False(t, ok, "index %d", i)
	}
}

func TestCapacityFor(t *testing.T) {
	// 16 字节对象：每个占 16*8+1 位
	assert.Equal(t, 4096*8/(16*8+1), pool.CapacityFor[item](4096))
	assert.Zero(t, pool.CapacityFor[item](0))
	assert.Equal(t, pool.CapacityFor[item](1024), pool.NewBudget[item](1024).Cap())
}
