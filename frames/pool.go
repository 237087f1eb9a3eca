// Package frames - Fixed arena of reusable frame buffers.
package frames

import (
	"context"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultPoolSize covers one buffer being filled by capture, one waiting in
// the mailbox and one being processed by inference.
const DefaultPoolSize = 3

// Frame is one decoded image and its capture time. A Frame has exactly one
// owner at a time; the owner returns it with Release.
type Frame struct {
	// Mat is the decoded image. It is reused across captures.
	Mat gocv.Mat
	// Timestamp is the time the frame was captured.
	Timestamp time.Time

	pool  *Pool
	inUse bool // guarded by pool.mu
}

// Release hands the frame back to the pool it was acquired from.
func (f *Frame) Release() {
	if f == nil || f.pool == nil {
		return
	}
	f.pool.put(f)
}

// Pool is an arena of pre-allocated frames.
type Pool struct {
	free   chan *Frame
	all    []*Frame
	mu     sync.Mutex
	closed bool
}

// NewPool allocates size frames backed by empty Mats.
//
// Arguments:
//   - size: Number of frames in the arena. Values below 1 use DefaultPoolSize.
//
// Returns:
//   - *Pool: The arena with every frame free.
func NewPool(size int) *Pool {
	return newPool(size, gocv.NewMat)
}

func newPool(size int, alloc func() gocv.Mat) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}
	p := &Pool{
		free: make(chan *Frame, size),
		all:  make([]*Frame, 0, size),
	}
	for i := 0; i < size; i++ {
		f := &Frame{Mat: alloc(), pool: p}
		p.all = append(p.all, f)
		p.free <- f
	}
	return p
}

// Acquire takes a free frame, waiting for one to be released if necessary.
//
// Arguments:
//   - ctx: Cancels the wait.
//
// Returns:
//   - *Frame: A frame owned by the caller.
//   - error: The context error if the wait was cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Frame, error) {
	select {
	case f := <-p.free:
		p.mu.Lock()
		f.inUse = true
		p.mu.Unlock()
		f.Timestamp = time.Time{}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Available returns the number of free frames.
func (p *Pool) Available() int {
	return len(p.free)
}

// Size returns the total number of frames in the arena.
func (p *Pool) Size() int {
	return len(p.all)
}

func (p *Pool) put(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !f.inUse {
		panic("frames: frame released twice")
	}
	f.inUse = false
	p.free <- f
}

// Close frees the Mats of every frame. Frames must not be used afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for _, f := range p.all {
		if err := f.Mat.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
