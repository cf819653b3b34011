package fifo

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueBasicOperations(t *testing.T) {
	t.Run("FIFO order", func(t *testing.T) {
		q := New([]int{1, 2, 3})
		for _, want := range []int{1, 2, 3} {
			v, ok := q.Pop()
			require.True(t, ok, "pop should succeed")
			assert.Equal(t, want, v)
		}
		_, ok := q.Pop()
		assert.False(t, ok, "exhausted queue should report empty")
	})

	t.Run("count tracks removals", func(t *testing.T) {
		q := New([]string{"a", "b"})
		assert.Equal(t, int64(0), q.Count())
		assert.Equal(t, int64(2), q.Total())
		q.Pop()
		assert.Equal(t, int64(1), q.Count())
		assert.Equal(t, int64(1), q.Remaining())
		q.Pop()
		q.Pop()
		assert.Equal(t, int64(2), q.Count(), "failed pops must not count")
		assert.True(t, q.Empty())
	})

	t.Run("nil queue contents", func(t *testing.T) {
		q := New[int](nil)
		_, ok := q.Pop()
		assert.False(t, ok)
		assert.True(t, q.Empty())
	})
}

func TestQueueTwoConsumersFiveItems(t *testing.T) {
	q := New([]int{0, 1, 2, 3, 4})

	var wg sync.WaitGroup
	wg.Add(2)
	for w := 0; w < 2; w++ {
		go func() {
			defer wg.Done()
			for {
				if _, ok := q.Pop(); !ok {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), q.Count())
	_, ok := q.Pop()
	assert.False(t, ok, "sixth pop should report empty")
}

func TestQueueConcurrentDistinct(t *testing.T) {
	const n = 20000
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	q := New(items)

	seen := make([]atomic.Int32, n)
	var popped atomic.Int64
	var wg sync.WaitGroup

	// Progress reader: count must never go backwards.
	stop := make(chan struct{})
	monotonic := true
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		var last int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			c := q.Count()
			if c < last {
				monotonic = false
			}
			last = c
		}
	}()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Pop()
				if !ok {
					return
				}
				seen[v].Add(1)
				popped.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stop)
	readerWG.Wait()

	assert.True(t, monotonic, "Count() decreased during concurrent pops")
	assert.Equal(t, int64(n), popped.Load())
	assert.Equal(t, int64(n), q.Count())
	for i := range seen {
		if got := seen[i].Load(); got != 1 {
			t.Fatalf("item %d popped %d times", i, got)
		}
	}
}
