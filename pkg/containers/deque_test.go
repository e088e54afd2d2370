package containers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDequeQueueBasics(t *testing.T) {
	t.Parallel()

	q := NewDequeQueue[int]()
	_, ok := q.Pop()
	require.False(t, ok)
	_, ok = q.Peek()
	require.False(t, ok)

	for i := 0; i < 1000; i++ {
		q.Add(i)
	}
	require.Equal(t, 1000, q.Size())

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, 0, head)

	for i := 0; i < 1000; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	require.Equal(t, 0, q.Size())

	select {
	case <-q.C:
	default:
		require.Fail(t, "queue should have been signaled")
	}
}

func TestDequeQueueConcurrentAdd(t *testing.T) {
	t.Parallel()

	q := NewDequeQueue[string]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Add("elem")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, q.Size())
}
