package peer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxFIFO(t *testing.T) {
	q := NewInbox(0)

	assert.Equal(t, "m1", q.Push("m1"))
	assert.Equal(t, "m2", q.Push("m2"))

	head, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, "m1", head)
	assert.Equal(t, 2, q.Len())

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "m1", first)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "m2", second)
}

func TestInboxEmpty(t *testing.T) {
	q := NewInbox(0)

	_, ok := q.Get()
	assert.False(t, ok)
	_, ok = q.Pop()
	assert.False(t, ok)
	assert.Empty(t, q.Drain())
}

func TestInboxDropsOldestWhenFull(t *testing.T) {
	q := NewInbox(2)

	q.Push("a")
	q.Push("b")
	q.Push("c")

	assert.Equal(t, 1, q.Dropped())
	assert.Equal(t, []string{"b", "c"}, q.Drain())
}

func TestInboxConcurrentPushKeepsPerProducerOrder(t *testing.T) {
	q := NewInbox(0)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(fmt.Sprintf("%d-%03d", p, i))
			}
		}(p)
	}
	wg.Wait()

	got := q.Drain()
	require.Len(t, got, 400)

	last := map[byte]string{}
	for _, m := range got {
		prev, seen := last[m[0]]
		if seen {
			assert.Less(t, prev, m)
		}
		last[m[0]] = m
	}
}

func TestInboxWaitWakesOnPush(t *testing.T) {
	q := NewInbox(0)

	done := make(chan error, 1)
	go func() {
		done <- q.Wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("wake")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Push")
	}
}

func TestInboxWaitHonorsContext(t *testing.T) {
	q := NewInbox(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}
