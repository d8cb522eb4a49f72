package dispatch

// Dispatcher runs callbacks on whichever goroutine calls DrainAll. Construct one
// per consumer and pass it to anything that needs to touch consumer-owned state.
type Dispatcher struct {
	q Queue[func()]
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Enqueue schedules fn to run on the next DrainAll. A nil fn is ignored.
func (d *Dispatcher) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	d.q.Push(fn)
}

// DrainAll runs every pending callback in FIFO order on the calling goroutine
// and returns how many ran.
func (d *Dispatcher) DrainAll() int {
	return d.q.Drain(func(fn func()) { fn() })
}

// Pending returns the number of callbacks waiting to run.
func (d *Dispatcher) Pending() int {
	return d.q.Len()
}
