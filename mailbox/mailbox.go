// Package mailbox - Single-slot frame handoff between one producer and one consumer.
//
// The producer never blocks: publishing overwrites an unconsumed frame, which is
// handed to the release callback. The consumer blocks until a frame newer than
// the last one it took is available, so it always works on the most recent
// image and never sees the same frame twice.
package mailbox

import "sync"

// Delivery is a frame taken from the mailbox.
type Delivery[T any] struct {
	// Frame is the taken frame; the consumer now owns it.
	Frame T
	// Seq is the sequence number assigned at publish time.
	Seq uint32
	// Dropped is the number of frames published since the previous take that
	// were overwritten before they could be taken.
	Dropped uint32
}

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Published uint32
	Consumed  uint32
	Dropped   uint64
}

// Mailbox holds at most one pending frame.
type Mailbox[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending    T
	hasPending bool
	pendingSeq uint32

	published uint32 // last sequence handed out by Publish
	consumed  uint32 // last sequence returned by Take
	dropped   uint64
	closed    bool

	release func(T)
}

// New creates an empty mailbox. release, when not nil, is called with every
// frame the mailbox discards: overwritten frames, a frame pending at Close, and
// frames published after Close.
func New[T any](release func(T)) *Mailbox[T] {
	m := &Mailbox[T]{release: release}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores frame as the pending frame and wakes the consumer.
//
// Arguments:
//   - frame: The frame to hand off. Ownership passes to the mailbox.
//
// Returns:
//   - uint32: The sequence number assigned to frame, or 0 if the mailbox is closed.
func (m *Mailbox[T]) Publish(frame T) uint32 {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		m.discard(frame)
		return 0
	}

	var (
		evicted    T
		hasEvicted bool
	)
	if m.hasPending {
		evicted, hasEvicted = m.pending, true
	}

	m.published++
	m.pending = frame
	m.pendingSeq = m.published
	m.hasPending = true
	seq := m.published

	m.cond.Signal()
	m.mu.Unlock()

	if hasEvicted {
		m.discard(evicted)
	}
	return seq
}

// Take blocks until a frame is pending and removes it from the mailbox.
//
// Returns:
//   - Delivery[T]: The frame with its sequence number and drop count.
//   - bool: False once the mailbox is closed.
func (m *Mailbox[T]) Take() (Delivery[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.closed {
			return Delivery[T]{}, false
		}
		if m.hasPending {
			delta := int64(m.pendingSeq) - int64(m.consumed)
			if delta < 0 {
				panic("mailbox: pending sequence is older than the last consumed one")
			}
			if delta > 0 {
				break
			}
		}
		// Nothing new yet.
		m.cond.Wait()
	}

	d := Delivery[T]{
		Frame:   m.pending,
		Seq:     m.pendingSeq,
		Dropped: m.pendingSeq - m.consumed - 1,
	}

	var zero T
	m.pending = zero
	m.hasPending = false
	m.consumed = d.Seq
	m.dropped += uint64(d.Dropped)

	return d, true
}

// Close marks the mailbox closed, releases a pending frame and wakes the
// consumer. It is safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var (
		pending    T
		hasPending = m.hasPending
	)
	if hasPending {
		pending = m.pending
		var zero T
		m.pending = zero
		m.hasPending = false
	}

	m.cond.Broadcast()
	m.mu.Unlock()

	if hasPending {
		m.discard(pending)
	}
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Published: m.published,
		Consumed:  m.consumed,
		Dropped:   m.dropped,
	}
}

func (m *Mailbox[T]) discard(frame T) {
	if m.release != nil {
		m.release(frame)
	}
}
