package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buffer struct {
	data []byte
}

func TestPool(t *testing.T) {
	p := New(
		func() *buffer { return &buffer{data: make([]byte, 0, 16)} },
		func(b *buffer) { b.data = b.data[:0] },
	)

	b := p.Get()
	b.data = append(b.data, "hello"...)
	allocated, inUse, _ := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(1), inUse)

	p.Put(b)
	_, inUse, _ = p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Empty(t, b.data, "reset runs on Put")
}

func TestPoolConcurrent(t *testing.T) {
	p := NewSlicePool[int](8)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s := p.Get()
				*s = append(*s, i)
				p.Put(s)
			}
		}()
	}
	wg.Wait()

	allocated, inUse, hits := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(800), allocated+hits)
}

func TestSlicePoolClears(t *testing.T) {
	p := NewSlicePool[interface{}](4)
	s := p.Get()
	require.Equal(t, 4, cap(*s))
	*s = append(*s, "a", "b")
	backing := (*s)[:2]
	p.Put(s)
	assert.Len(t, *s, 0)
	assert.Nil(t, backing[0])
	assert.Nil(t, backing[1])
}
