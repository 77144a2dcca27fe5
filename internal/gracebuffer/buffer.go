// Package gracebuffer absorbs out-of-order event arrivals. Envelopes sit in
// per-entity buckets for a grace period, then drain in a deterministic
// global order so replays converge no matter how delivery was shuffled.
package gracebuffer

import (
	"sort"
	"sync"
	"time"

	"github.com/untoldecay/kira/internal/types"
)

const (
	DefaultGracePeriod   = 5 * time.Second
	DefaultMaxBufferSize = 1000

	// Below this grace period the early fast path is disabled: the window
	// is too short for reordering to matter and skipping it keeps short
	// test windows strictly age-based.
	fastPathMinGrace = time.Second
)

// BufferedEvent pairs an envelope with its local arrival time, which drives
// the age-based readiness check.
type BufferedEvent struct {
	Env        *types.Envelope
	ReceivedAt time.Time
}

// Option configures a Buffer.
type Option func(*Buffer)

func WithGracePeriod(d time.Duration) Option {
	return func(b *Buffer) { b.grace = d }
}

func WithMaxBufferSize(n int) Option {
	return func(b *Buffer) { b.maxSize = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// Buffer is the grace buffer. Safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	buckets   map[string][]*BufferedEvent
	overflow  []*BufferedEvent
	pending   map[string]struct{}
	processed map[string]struct{}
	size      int

	registry *Registry
	grace    time.Duration
	maxSize  int
	now      func() time.Time
}

func New(registry *Registry, opts ...Option) *Buffer {
	b := &Buffer{
		buckets:   make(map[string][]*BufferedEvent),
		pending:   make(map[string]struct{}),
		processed: make(map[string]struct{}),
		registry:  registry,
		grace:     DefaultGracePeriod,
		maxSize:   DefaultMaxBufferSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddEvent buffers an envelope. Returns false when the event ID is already
// processed or already pending, so duplicates never reach a reducer twice.
func (b *Buffer) AddEvent(env *types.Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.processed[env.EventID]; done {
		return false
	}
	if _, waiting := b.pending[env.EventID]; waiting {
		return false
	}

	key := EntityKey(env)
	b.buckets[key] = append(b.buckets[key], &BufferedEvent{Env: env, ReceivedAt: b.now()})
	b.pending[env.EventID] = struct{}{}
	b.size++

	if b.size > b.maxSize {
		b.evictOldestLocked()
	}
	return true
}

// evictOldestLocked moves the single oldest buffered event into the
// overflow list, where it is unconditionally ready on the next drain.
func (b *Buffer) evictOldestLocked() {
	var oldestKey string
	oldestIdx := -1
	var oldest *BufferedEvent
	for key, bucket := range b.buckets {
		for i, be := range bucket {
			if oldest == nil || be.ReceivedAt.Before(oldest.ReceivedAt) {
				oldest, oldestKey, oldestIdx = be, key, i
			}
		}
	}
	if oldest == nil {
		return
	}
	b.buckets[oldestKey] = append(b.buckets[oldestKey][:oldestIdx], b.buckets[oldestKey][oldestIdx+1:]...)
	if len(b.buckets[oldestKey]) == 0 {
		delete(b.buckets, oldestKey)
	}
	b.overflow = append(b.overflow, oldest)
	b.size--
}

// Drain applies every ready event to state in the canonical replay order
// (event_ts, seq, event_id) and returns the new state plus the envelopes
// that were processed.
func (b *Buffer) Drain(state State) (State, []*types.Envelope, error) {
	return b.drain(state, false)
}

// FlushAll drains everything regardless of age, in the same canonical order.
func (b *Buffer) FlushAll(state State) (State, []*types.Envelope, error) {
	return b.drain(state, true)
}

func (b *Buffer) drain(state State, all bool) (State, []*types.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ready := b.collectReadyLocked(state, all)
	sortReplayOrder(ready)

	processed := make([]*types.Envelope, 0, len(ready))
	var firstErr error
	for _, be := range ready {
		if red := b.registry.Resolve(be.Env.Type); red != nil {
			next, err := red.Apply(state, be.Env)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if err == nil {
				state = next
			}
		}
		b.processed[be.Env.EventID] = struct{}{}
		delete(b.pending, be.Env.EventID)
		processed = append(processed, be.Env)
	}
	return state, processed, firstErr
}

// collectReadyLocked removes and returns every ready event. Readiness is
// age >= grace, overflow, or the early fast path: the bucket's earliest
// pending event whose reducer reports its dependencies met.
func (b *Buffer) collectReadyLocked(state State, all bool) []*BufferedEvent {
	ready := b.overflow
	b.overflow = nil

	now := b.now()
	for key, bucket := range b.buckets {
		head := bucketHead(bucket)
		var keep []*BufferedEvent
		for _, be := range bucket {
			if all || now.Sub(be.ReceivedAt) >= b.grace || b.fastPathReady(state, be, head) {
				ready = append(ready, be)
				continue
			}
			keep = append(keep, be)
		}
		if len(keep) == 0 {
			delete(b.buckets, key)
		} else {
			b.buckets[key] = keep
		}
		b.size -= len(bucket) - len(keep)
	}
	return ready
}

func (b *Buffer) fastPathReady(state State, be, head *BufferedEvent) bool {
	if b.grace <= fastPathMinGrace || be != head {
		return false
	}
	red := b.registry.Resolve(be.Env.Type)
	return red != nil && red.CanApply(state, be.Env)
}

// bucketHead finds the bucket's earliest event in replay order.
func bucketHead(bucket []*BufferedEvent) *BufferedEvent {
	var head *BufferedEvent
	for _, be := range bucket {
		if head == nil || replayLess(be.Env, head.Env) {
			head = be
		}
	}
	return head
}

func sortReplayOrder(events []*BufferedEvent) {
	sort.Slice(events, func(i, j int) bool {
		return replayLess(events[i].Env, events[j].Env)
	})
}

func replayLess(a, b *types.Envelope) bool {
	if a.EventTS != b.EventTS {
		return a.EventTS < b.EventTS
	}
	if a.SeqOrZero() != b.SeqOrZero() {
		return a.SeqOrZero() < b.SeqOrZero()
	}
	return a.EventID < b.EventID
}

// Len reports how many events are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size + len(b.overflow)
}

// ProcessedCount reports how many events have been drained so far.
func (b *Buffer) ProcessedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.processed)
}
