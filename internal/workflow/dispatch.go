package workflow

import "sync"

// dispatcher delivers snapshots to a single consumer in push order. Pushes
// never block: pending snapshots queue until the consumer reads them, so
// two transitions committed back to back are both delivered.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Snapshot
	closed bool

	out  chan Snapshot
	done chan struct{}
	once sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		out:  make(chan Snapshot),
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) push(s Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, s)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	defer close(d.out)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		s := d.queue[0]
		d.queue[0] = Snapshot{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		select {
		case d.out <- s:
		case <-d.done:
			return
		}
	}
}

// close stops delivery; undelivered snapshots are dropped and out is closed.
func (d *dispatcher) close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.queue = nil
		d.cond.Broadcast()
		d.mu.Unlock()
		close(d.done)
	})
}
