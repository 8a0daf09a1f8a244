package proxy

import "sync"

// outbox is an unbounded FIFO of frames bound for the target. The agent
// direction pushes without blocking; one writer goroutine pops.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	closed bool
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// push queues frame. It reports false once the outbox is closed.
func (o *outbox) push(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.frames = append(o.frames, frame)
	o.cond.Signal()
	return true
}

// next blocks for the oldest frame. After close it keeps returning queued
// frames, then reports false.
func (o *outbox) next() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.frames) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.frames) == 0 {
		return nil, false
	}
	frame := o.frames[0]
	o.frames[0] = nil
	o.frames = o.frames[1:]
	return frame, true
}

// close stops further pushes. Queued frames are still handed out.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.cond.Broadcast()
}

// pending reports how many frames are waiting.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}
