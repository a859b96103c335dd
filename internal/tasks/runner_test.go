package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunner_ExecutesAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 2, BufferSize: 16, Logger: zap.NewNop()})
	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, r.Submit("count", func(context.Context) error {
			time.Sleep(time.Millisecond)
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, r.Close(context.Background()))
	require.Equal(t, int32(10), count.Load())
	require.False(t, r.Submit("late", func(context.Context) error { return nil }))
	require.NoError(t, r.Close(context.Background()))
}

func TestRunner_IsolatesFailures(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1})
	var ran atomic.Bool
	require.True(t, r.Submit("error", func(context.Context) error { return errors.New("boom") }))
	require.True(t, r.Submit("panic", func(context.Context) error { panic("bad") }))
	require.True(t, r.Submit("ok", func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	require.NoError(t, r.Close(context.Background()))
	require.True(t, ran.Load())
}

func TestRunner_AppliesTaskTimeout(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{Workers: 1, TaskTimeout: 20 * time.Millisecond})
	var gotErr error
	var mu sync.Mutex
	require.True(t, r.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		mu.Lock()
		gotErr = ctx.Err()
		mu.Unlock()
		return ctx.Err()
	}))
	require.NoError(t, r.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.ErrorIs(t, gotErr, context.DeadlineExceeded)
}

func TestRunner_DropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	r := NewRunner(Config{Workers: 1, BufferSize: 1})

	require.True(t, r.Submit("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.True(t, r.Submit("queued", func(context.Context) error { return nil }))
	require.False(t, r.Submit("overflow", func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, r.Close(context.Background()))
}

func TestRunner_CloseHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	r := NewRunner(Config{Workers: 1})
	require.True(t, r.Submit("stuck", func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, r.Close(ctx))
	close(release)
}
