package events

import (
	"context"
	"sync"
)

// DefaultRecentCapacity bounds the in-memory event history.
const DefaultRecentCapacity = 500

// RecentBuffer subscribes to the hub and keeps a bounded history of events
// for the activity feed in the API. Oldest events are evicted first.
type RecentBuffer struct {
	hub *Hub
	cap int

	mu  sync.RWMutex
	buf []Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecentBuffer creates a buffer holding up to capacity events.
func NewRecentBuffer(hub *Hub, capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RecentBuffer{
		hub:    hub,
		cap:    capacity,
		buf:    make([]Event, 0, capacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins consuming events.
func (b *RecentBuffer) Start() {
	events := b.hub.Subscribe(256)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				b.hub.Unsubscribe(events)
				return
			case e := <-events:
				b.append(e)
			}
		}
	}()
}

// Stop shuts down the consumer.
func (b *RecentBuffer) Stop() {
	b.cancel()
	b.wg.Wait()
}

func (b *RecentBuffer) append(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == b.cap {
		copy(b.buf, b.buf[1:])
		b.buf = b.buf[:b.cap-1]
	}
	b.buf = append(b.buf, e)
}

// Recent returns up to limit events, newest first. limit <= 0 returns the
// whole history.
func (b *RecentBuffer) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.buf)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = b.buf[len(b.buf)-1-i]
	}
	return out
}
