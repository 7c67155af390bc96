package infra

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrShardsClosed = errors.New("shards are closed")

// Shards runs keyed jobs on a fixed set of workers. Jobs sharing a key run one
// at a time in submission order, jobs with different keys may run in parallel.
type Shards struct {
	mu     sync.RWMutex
	closed bool
	queues []chan func()
	group  errgroup.Group
}

func NewShards(workers, depth int) *Shards {
	if workers < 1 {
		workers = 1
	}
	s := &Shards{queues: make([]chan func(), workers)}
	for i := range s.queues {
		q := make(chan func(), depth)
		s.queues[i] = q
		s.group.Go(func() error {
			for job := range q {
				job()
			}
			return nil
		})
	}
	return s
}

// Submit queues job on the worker that owns key. It blocks while that queue is
// full and gives up when ctx is done.
func (s *Shards) Submit(ctx context.Context, key int64, job func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrShardsClosed
	}
	q := s.queues[uint64(key)%uint64(len(s.queues))]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new jobs and waits for the queued ones to finish.
func (s *Shards) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()
	_ = s.group.Wait()
}
