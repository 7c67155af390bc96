package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestShardsOrderPerKey(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewShards(3, 8)
	var (
		mu  sync.Mutex
		got = map[int64][]int{}
	)
	for i := 0; i < 20; i++ {
		key := int64(i % 4)
		require.NoError(t, s.Submit(context.Background(), key, func() {
			mu.Lock()
			got[key] = append(got[key], i)
			mu.Unlock()
		}))
	}
	s.Close()

	for key, seq := range got {
		for j := 1; j < len(seq); j++ {
			assert.Less(t, seq[j-1], seq[j], "key %d out of order", key)
		}
	}
	assert.Len(t, got, 4)
}

func TestShardsBlockedKeyDoesNotStallOthers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewShards(2, 1)
	release := make(chan struct{})
	ran := make(chan struct{})

	require.NoError(t, s.Submit(context.Background(), 0, func() { <-release }))
	require.NoError(t, s.Submit(context.Background(), 1, func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job on another shard did not run")
	}
	close(release)
	s.Close()
}

func TestShardsSubmitAfterClose(t *testing.T) {
	t.Parallel()

	s := NewShards(1, 0)
	s.Close()
	s.Close()
	require.ErrorIs(t, s.Submit(context.Background(), 1, func() {}), ErrShardsClosed)
}

func TestShardsSubmitHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewShards(1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), 0, func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Submit(ctx, 0, func() {}), context.DeadlineExceeded)

	close(release)
	s.Close()
}
