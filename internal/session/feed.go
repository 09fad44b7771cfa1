package session

import (
	"context"
	"sync"
)

const feedBufferSize = 16

// changeFeed fans view snapshots out to subscribers. Slow subscribers miss snapshots
// rather than block the session. A subscriber's stream is closed when it unsubscribes.
type changeFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]chan View
	nextID      int64
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subscribers: make(map[int64]chan View)}
}

func (f *changeFeed) subscribe(ctx context.Context) (<-chan View, func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	stream := make(chan View, feedBufferSize)
	f.subscribers[id] = stream
	f.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, id)
			close(stream)
			f.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return stream, cleanup
}

func (f *changeFeed) publish(view View) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, stream := range f.subscribers {
		select {
		case stream <- view:
		default:
		}
	}
}
