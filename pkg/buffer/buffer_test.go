package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/catchup/errors"
)

func TestCircularBasicOperations(t *testing.T) {
	buf, err := NewCircular[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 3, buf.Capacity())
	assert.True(t, buf.IsEmpty())
	assert.False(t, buf.IsFull())

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))
	assert.True(t, buf.IsFull())

	// Peek does not consume.
	value, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", value)
	assert.Equal(t, 3, buf.Size())

	// FIFO order.
	for _, want := range []string{"first", "second", "third"} {
		got, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok = buf.Read()
	assert.False(t, ok, "read from empty buffer should fail")
}

func TestCircularMinimumCapacity(t *testing.T) {
	buf, err := NewCircular[int](0)
	require.NoError(t, err)
	defer buf.Close()

	// Zero or negative capacities are clamped to 1.
	assert.Equal(t, 1, buf.Capacity())
}

func TestCircularDropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{1}, dropped)
	got, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, int64(1), buf.Stats().Drops())
}

func TestCircularDropNewest(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{3}, dropped)
	got, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestCircularBlockPolicy(t *testing.T) {
	buf, err := NewCircular[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() {
		done <- buf.Write(2)
	}()

	select {
	case <-done:
		t.Fatal("write should block while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := buf.Read()
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked write did not complete after read")
	}
}

func TestCircularBlockPolicyContextCancel(t *testing.T) {
	buf, err := NewCircular[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = buf.WriteContext(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircularReadContext(t *testing.T) {
	buf, err := NewCircular[int](4)
	require.NoError(t, err)
	defer buf.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = buf.Write(42)
	}()

	got, err := buf.ReadContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCircularReadContextCancel(t *testing.T) {
	buf, err := NewCircular[int](4)
	require.NoError(t, err)
	defer buf.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = buf.ReadContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircularCloseDrainsRemaining(t *testing.T) {
	buf, err := NewCircular[int](4)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Close())

	// Items written before close are still readable.
	got, err := buf.ReadContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = buf.ReadContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	_, err = buf.ReadContext(context.Background())
	assert.ErrorIs(t, err, cerrors.ErrClosed)

	err = buf.Write(3)
	assert.ErrorIs(t, err, cerrors.ErrClosed)
}

func TestCircularClear(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](4,
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	buf.Clear()
	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, []int{1, 2, 3}, dropped)
}

func TestCircularWrapAround(t *testing.T) {
	buf, err := NewCircular[int](3)
	require.NoError(t, err)
	defer buf.Close()

	// Cycle through the ring several times to exercise index wrapping.
	next := 0
	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, buf.Write(next+i))
		}
		for i := 0; i < 3; i++ {
			got, ok := buf.Read()
			require.True(t, ok)
			assert.Equal(t, next+i, got)
		}
		next += 3
	}
}

func TestCircularStats(t *testing.T) {
	buf, err := NewCircular[int](2, WithOverflowPolicy[int](DropOldest))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))
	buf.Read()
	buf.Peek()

	s := buf.Stats().Summary()
	assert.Equal(t, int64(3), s.Writes)
	assert.Equal(t, int64(1), s.Reads)
	assert.Equal(t, int64(1), s.Peeks)
	assert.Equal(t, int64(1), s.Drops)
	assert.Equal(t, int64(1), s.Overflows)
	assert.Equal(t, int64(2), s.MaxSize)
}

func TestCircularConcurrentAccess(t *testing.T) {
	buf, err := NewCircular[int](64, WithOverflowPolicy[int](Block))
	require.NoError(t, err)

	const writers = 4
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = buf.Write(base + i)
			}
		}(w * perWriter)
	}

	read := make(map[int]bool)
	var readMu sync.Mutex
	var rg sync.WaitGroup
	for r := 0; r < 2; r++ {
		rg.Add(1)
		go func() {
			defer rg.Done()
			for {
				item, err := buf.ReadContext(context.Background())
				if err != nil {
					return
				}
				readMu.Lock()
				read[item] = true
				readMu.Unlock()
			}
		}()
	}

	wg.Wait()
	// Close after writers finish; readers drain the remainder then exit.
	require.NoError(t, buf.Close())
	rg.Wait()

	assert.Len(t, read, writers*perWriter)
}
