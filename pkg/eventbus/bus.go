package eventbus

import "sync"

// DefaultCapacity is the default bounded buffer size.
const DefaultCapacity = 1024

// Bus is a bounded multi-producer, multi-consumer event channel with
// kind-aware selective backpressure. When full, a new Progress or
// FileScanned event is itself dropped; any other new event evicts the oldest
// buffered Progress event, or if there is none the oldest buffered
// FileScanned event. Detection, ScanCompleted, Error, and the
// session/quarantine/monitor lifecycle events are never dropped. It is
// implemented as a ring buffer guarded by a mutex plus two condition
// variables, rather than a
// raw Go channel, since a plain channel send would block indefinitely (or
// panic if closed concurrently) instead of making a drop decision.
type Bus struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	capacity int
	ring     []Event
	head     int
	size     int
	closed   bool

	droppedProgress    uint64
	droppedFileScanned uint64
}

// New constructs a Bus with the given bounded capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		capacity: capacity,
		ring:     make([]Event, capacity),
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Publish enqueues an event. If the buffer is full and the event's kind is
// droppable, the event is dropped and its kind's dropped counter is
// incremented (surfaced on the next event of the same kind); otherwise
// Publish evicts the oldest droppable event to make room, or as a last
// resort (buffer full of non-droppable events) blocks until space frees up.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if b.size == b.capacity {
		if e.eventKind().droppable() {
			b.recordDrop(e.eventKind())
			return
		}
		if !b.evictOneDroppable() {
			for b.size == b.capacity && !b.closed {
				b.notFull.Wait()
			}
			if b.closed {
				return
			}
		}
	}

	b.annotateDrops(&e)
	b.push(e)
	b.notEmpty.Signal()
}

// recordDrop increments the dropped counter for a droppable kind.
func (b *Bus) recordDrop(k kind) {
	switch k {
	case kindProgress:
		b.droppedProgress++
	case kindFileScanned:
		b.droppedFileScanned++
	}
}

// annotateDrops stamps an outgoing Progress/FileScanned event with the
// dropped count accumulated since the last event of its kind, then resets
// that counter, satisfying the "dropped counts are surfaced in the next
// event of the same kind" requirement.
func (b *Bus) annotateDrops(e *Event) {
	switch v := (*e).(type) {
	case Progress:
		v.DroppedSinceLast = b.droppedProgress
		b.droppedProgress = 0
		*e = v
	case FileScanned:
		v.DroppedSinceLast = b.droppedFileScanned
		b.droppedFileScanned = 0
		*e = v
	}
}

// evictOneDroppable removes the oldest Progress event from the ring, or if
// there is none the oldest FileScanned event, to make room for a
// non-droppable one. Must be called with b.mu held.
func (b *Bus) evictOneDroppable() bool {
	for _, target := range []kind{kindProgress, kindFileScanned} {
		for i := 0; i < b.size; i++ {
			index := (b.head + i) % b.capacity
			if b.ring[index].eventKind() == target {
				b.recordDrop(target)
				b.removeAt(index)
				return true
			}
		}
	}
	return false
}

// removeAt removes the element at the given ring index, compacting the
// buffer. Must be called with b.mu held.
func (b *Bus) removeAt(index int) {
	for i := index; i != (b.head+b.size-1)%b.capacity; i = (i + 1) % b.capacity {
		next := (i + 1) % b.capacity
		b.ring[i] = b.ring[next]
	}
	b.size--
	b.notFull.Signal()
}

// push appends e at the tail. Must be called with b.mu held and b.size <
// b.capacity.
func (b *Bus) push(e Event) {
	tail := (b.head + b.size) % b.capacity
	b.ring[tail] = e
	b.size++
}

// Next blocks until an event is available or the bus is closed, in which
// case ok is false.
func (b *Bus) Next() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 && !b.closed {
		b.notEmpty.Wait()
	}
	if b.size == 0 {
		return nil, false
	}

	e := b.ring[b.head]
	b.ring[b.head] = nil
	b.head = (b.head + 1) % b.capacity
	b.size--
	b.notFull.Signal()
	return e, true
}

// Close terminates the bus, waking any blocked Next or Publish callers.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}
