package stream

import "sync"

// Dispatcher delivers session events to bound handlers on a dedicated
// goroutine, preserving emission order. Emitting never blocks, so sessions
// may emit while holding their own locks.
type Dispatcher struct {
	mu      sync.Mutex
	h       Handlers
	queue   []func(Handlers)
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// Bind installs h and starts the delivery goroutine.
func (d *Dispatcher) Bind(h Handlers) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.h != nil {
		return ErrAlreadyBound
	}
	d.h = h
	d.wake = make(chan struct{}, 1)
	d.done = make(chan struct{})
	go d.run(h, d.wake, d.done)
	return nil
}

// Bound reports whether handlers are installed.
func (d *Dispatcher) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h != nil
}

// ManifestReady queues a manifest-ready event.
func (d *Dispatcher) ManifestReady(id LoadID) {
	d.push(func(h Handlers) { h.ManifestReady(id) })
}

// Error queues an error event.
func (d *Dispatcher) Error(id LoadID, err error) {
	d.push(func(h Handlers) { h.Error(id, err) })
}

// Close stops delivery. Queued events are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.queue = nil
	if d.done != nil {
		close(d.done)
	}
}

func (d *Dispatcher) push(ev func(Handlers)) {
	d.mu.Lock()
	if d.h == nil || d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	wake := d.wake
	d.mu.Unlock()
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(h Handlers, wake <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-wake:
		}
		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()
			ev(h)
		}
	}
}
