// Package alert turns perception results into spoken announcements. A
// priority queue feeds a single TTS engine, deduplicating semantically
// identical announcements so the user doesn't hear "person ahead, 4 feet"
// five times in three seconds.
package alert

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// Pause after each utterance before starting the next one, so consecutive
// announcements don't run into each other.
const postUtteranceDelay = 150 * time.Millisecond

// Minimum time between repeats of the same error log message.
const errorLogInterval = 15 * time.Second

type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3 // Interrupts whatever is currently being spoken
)

// Speech is the TTS engine that the queue drives. Implementations wrap the
// platform speech API.
type Speech interface {
	// Speak utters text at the given volume (0..1). If interrupt is true,
	// any in-progress utterance is cut off first. Blocks until the
	// utterance completes or fails.
	Speak(text string, volume float64, interrupt bool) error

	// IsBusy reports whether an utterance is currently in progress.
	IsBusy() bool

	// Stop cuts off any in-progress utterance.
	Stop()
}

// Item is one pending announcement.
type Item struct {
	Text     string
	Priority Priority

	// Semantic identity for dedupe, eg "obj:person:left:4". Empty = never
	// deduplicated.
	CacheKey string

	// An item with the same CacheKey spoken less than this long ago is
	// suppressed.
	DedupeWindow time.Duration

	CreatedAt time.Time

	seq int64
}

type Queue struct {
	log       logs.Log
	speech    Speech
	retention time.Duration
	volume    float64

	mu         sync.Mutex
	cond       *sync.Cond
	items      itemHeap
	lastSpoken map[string]time.Time
	nextSeq    int64
	closed     bool
	lastSweep  time.Time
	lastErrLog time.Time

	// Injectable clock. Tests use this to exercise dedupe windows without
	// sleeping through them.
	now func() time.Time

	workerDone chan bool
}

// NewQueue creates the announcement queue and starts its speaking worker.
// retention bounds how long dedupe history is kept.
func NewQueue(log logs.Log, speech Speech, retention time.Duration) *Queue {
	if retention <= 0 {
		retention = 2 * time.Minute
	}
	q := &Queue{
		log:        log,
		speech:     speech,
		retention:  retention,
		volume:     1.0,
		lastSpoken: map[string]time.Time{},
		now:        time.Now,
		workerDone: make(chan bool),
	}
	q.cond = sync.NewCond(&q.mu)
	q.lastSweep = q.now()
	go q.worker()
	return q
}

// Enqueue adds an announcement. Returns false if it was suppressed as a
// recent duplicate.
func (q *Queue) Enqueue(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.isDuplicateLocked(&it) {
		return false
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = q.now()
	}
	it.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, it)
	q.cond.Signal()
	return true
}

// Len is the number of announcements waiting to be spoken.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear drops all pending announcements and cuts off the current one.
// Used on mode switches, where queued alerts from the old mode are stale.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = q.items[:0]
	q.mu.Unlock()
	q.speech.Stop()
}

// Close stops the worker. Pending announcements are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.workerDone
	q.speech.Stop()
}

// isDuplicateLocked reports whether it was spoken within its dedupe window.
func (q *Queue) isDuplicateLocked(it *Item) bool {
	if it.CacheKey == "" || it.DedupeWindow <= 0 {
		return false
	}
	spoken, ok := q.lastSpoken[it.CacheKey]
	return ok && q.now().Sub(spoken) < it.DedupeWindow
}

func (q *Queue) worker() {
	defer close(q.workerDone)
	for {
		q.mu.Lock()
		for q.items.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.items).(Item)

		// An item can sit in the queue long enough for an equivalent one to
		// have been spoken in the meantime, so dedupe is checked again here,
		// not only at enqueue.
		if q.isDuplicateLocked(&it) {
			q.mu.Unlock()
			continue
		}
		if it.CacheKey != "" {
			q.lastSpoken[it.CacheKey] = q.now()
		}
		q.sweepLocked()
		q.mu.Unlock()

		// Only critical items cut off speech, and only when the engine is
		// actually mid-utterance. Our own Speak calls are serial, so IsBusy
		// here means some other client of the engine is talking.
		interrupt := it.Priority >= PriorityCritical && q.speech.IsBusy()
		if err := q.speech.Speak(it.Text, q.volume, interrupt); err != nil {
			q.mu.Lock()
			if q.now().Sub(q.lastErrLog) > errorLogInterval {
				q.lastErrLog = q.now()
				q.mu.Unlock()
				q.log.Errorf("Failed to speak %q: %v", it.Text, err)
			} else {
				q.mu.Unlock()
			}
		}
		time.Sleep(postUtteranceDelay)
	}
}

// sweepLocked expires dedupe history older than the retention period.
func (q *Queue) sweepLocked() {
	now := q.now()
	if now.Sub(q.lastSweep) < q.retention {
		return
	}
	q.lastSweep = now
	for key, spoken := range q.lastSpoken {
		if now.Sub(spoken) > q.retention {
			delete(q.lastSpoken, key)
		}
	}
}

// itemHeap orders by priority (highest first), then age (oldest first),
// then submission order.
type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
