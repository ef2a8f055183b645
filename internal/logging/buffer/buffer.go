package buffer

import (
	"sync"

	"github.com/xente/loki-logger-handler/internal/logging"
)

// Queue is an unbounded FIFO of entries shared by any number of producers
// and a single consumer. Put never blocks on capacity.
type Queue struct {
	mu      sync.Mutex
	entries []logging.Entry
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Put(entry logging.Entry) {
	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()
}

// DrainAll removes and returns every queued entry in arrival order. Entries
// put concurrently land either in this drain or in the next one.
func (q *Queue) DrainAll() []logging.Entry {
	q.mu.Lock()
	drained := q.entries
	q.entries = nil
	q.mu.Unlock()
	return drained
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
