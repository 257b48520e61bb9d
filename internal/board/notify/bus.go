// Package notify implements the fan-out coordinator that delivers topic
// changes from writers to every live connection's own queue (spec
// component E).
package notify

import (
	"sort"
	"sync"

	"github.com/gassmann-textboard/textboard/internal/board/store"
)

// Queue is a per-connection, multi-producer single-consumer, unbounded
// queue of topic Snapshots. Any posting connection enqueues into it (via
// Bus.Broadcast); only the owning connection drains it.
type Queue struct {
	mu      sync.Mutex
	pending []store.Snapshot
}

func newQueue() *Queue {
	return &Queue{}
}

func (q *Queue) push(snap store.Snapshot) {
	q.mu.Lock()
	q.pending = append(q.pending, snap)
	q.mu.Unlock()
}

// Drain removes and returns every queued Snapshot, deduplicated by topic
// name (keeping the entry with the greatest Latest), sorted descending by
// Latest. It returns an empty slice if nothing was queued.
func (q *Queue) Drain() []store.Snapshot {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	byName := make(map[string]store.Snapshot, len(batch))
	for _, snap := range batch {
		if existing, ok := byName[snap.Name]; !ok || snap.Latest > existing.Latest {
			byName[snap.Name] = snap
		}
	}

	deduped := make([]store.Snapshot, 0, len(byName))
	for _, snap := range byName {
		deduped = append(deduped, snap)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Latest > deduped[j].Latest
	})

	return deduped
}

// Bus registers per-connection Queues and broadcasts topic changes to all
// of them.
type Bus struct {
	mu     sync.Mutex
	queues map[uint64]*Queue
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{queues: map[uint64]*Queue{}}
}

// Register creates and returns a Queue for connection id. The caller must
// call Unregister when the connection closes.
func (b *Bus) Register(id uint64) *Queue {
	q := newQueue()
	b.mu.Lock()
	b.queues[id] = q
	b.mu.Unlock()
	return q
}

// Unregister removes the Queue for connection id.
func (b *Bus) Unregister(id uint64) {
	b.mu.Lock()
	delete(b.queues, id)
	b.mu.Unlock()
}

// Broadcast hands snap to every currently registered connection's Queue.
// Called by the posting connection's protocol engine after a successful
// Index.Put.
func (b *Bus) Broadcast(snap store.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues {
		q.push(snap)
	}
}
