// Package animator is the consumer side of the capture pipeline. Once per tick
// it runs queued callbacks, decodes every waiting message, handles a pending
// calibration request and writes the retargeted pose to the bound rig.
package animator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/dispatch"
	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/mocap/rig"
	"github.com/banshee-data/facecap/internal/monitoring"
	"github.com/banshee-data/facecap/internal/timeutil"
)

// Observer sees the result of every tick on the animator goroutine. It must
// not retain res.Weights beyond the call without copying.
type Observer interface {
	Observe(at time.Time, res retarget.Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(at time.Time, res retarget.Result)

func (f ObserverFunc) Observe(at time.Time, res retarget.Result) { f(at, res) }

// Config wires an Animator.
type Config struct {
	Queue      *dispatch.Queue[protocol.RawMessage]
	Dispatcher *dispatch.Dispatcher
	Engine     *retarget.Engine
	Retarget   retarget.Config
	Observers  []Observer
	Metrics    monitoring.Recorder
	// OnCalibrate is called on the animator goroutine after a calibration.
	OnCalibrate func(at time.Time, offset retarget.Euler)
}

// Snapshot is a copy of the animator state safe to read from any goroutine.
type Snapshot struct {
	Ticks       uint64          `json:"ticks"`
	Messages    uint64          `json:"messages"`
	LastMessage time.Time       `json:"last_message"`
	Sender      string          `json:"sender,omitempty"`
	Result      retarget.Result `json:"result"`
	Calibration retarget.Euler  `json:"calibration"`
	Config      retarget.Config `json:"config"`
	Bound       bool            `json:"bound"`
}

// Animator owns the engine and everything it writes. Only Tick and Run touch
// engine state; other goroutines go through the Dispatcher.
type Animator struct {
	queue      *dispatch.Queue[protocol.RawMessage]
	dispatcher *dispatch.Dispatcher
	engine     *retarget.Engine
	observers  []Observer
	metrics    monitoring.Recorder
	onCalib    func(time.Time, retarget.Euler)

	cfg         retarget.Config
	ticks       uint64
	messages    uint64
	lastMessage time.Time
	sender      string

	calibrate atomic.Bool

	mu   sync.Mutex
	snap Snapshot
}

// New returns an Animator. Missing queue, dispatcher and engine are created.
func New(cfg Config) *Animator {
	if cfg.Queue == nil {
		cfg.Queue = dispatch.NewQueue[protocol.RawMessage]()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.NewDispatcher()
	}
	if cfg.Engine == nil {
		cfg.Engine = retarget.NewEngine()
	}
	a := &Animator{
		queue:      cfg.Queue,
		dispatcher: cfg.Dispatcher,
		engine:     cfg.Engine,
		observers:  cfg.Observers,
		metrics:    monitoring.OrNoop(cfg.Metrics),
		onCalib:    cfg.OnCalibrate,
		cfg:        cfg.Retarget,
	}
	a.snap.Config = cfg.Retarget
	return a
}

// Queue returns the message queue the receiver should push into.
func (a *Animator) Queue() *dispatch.Queue[protocol.RawMessage] { return a.queue }

// Dispatcher returns the dispatcher drained at the start of every tick.
func (a *Animator) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// RequestCalibration makes the head orientation seen at the next tick the new
// zero reference. It may be called from any goroutine.
func (a *Animator) RequestCalibration() {
	a.calibrate.Store(true)
}

// SetConfig replaces the retarget configuration from the next tick on. It may
// be called from any goroutine.
func (a *Animator) SetConfig(cfg retarget.Config) {
	a.dispatcher.Enqueue(func() { a.cfg = cfg })
}

// Bind attaches a rig from the next tick on. It may be called from any
// goroutine.
func (a *Animator) Bind(b rig.Binding) {
	a.dispatcher.Enqueue(func() { a.engine.Bind(b) })
}

// Resolve binds whatever r discovers. A resolver error is returned and the
// current binding is kept.
func (a *Animator) Resolve(r rig.Resolver) error {
	if r == nil {
		return errors.New("animator: nil resolver")
	}
	b, err := r.Resolve()
	if err != nil {
		return err
	}
	a.Bind(b)
	return nil
}

// AddObserver registers o from the next tick on.
func (a *Animator) AddObserver(o Observer) {
	a.dispatcher.Enqueue(func() { a.observers = append(a.observers, o) })
}

// Tick runs one consumer step at now and returns the applied result.
func (a *Animator) Tick(now time.Time) retarget.Result {
	a.dispatcher.DrainAll()

	cfg := a.cfg
	a.queue.Drain(func(m protocol.RawMessage) {
		f := protocol.Decode(m.Text)
		a.metrics.FieldsSkipped(f.SkippedFields)
		a.engine.Ingest(f, cfg)
		a.messages++
		a.lastMessage = m.Received
		a.sender = m.Sender
	})

	if a.calibrate.Swap(false) {
		off := a.engine.Calibrate()
		a.metrics.Calibrated()
		monitoring.Logf("[animator] calibrated, offset pitch=%.2f yaw=%.2f roll=%.2f", off.Pitch, off.Yaw, off.Roll)
		if a.onCalib != nil {
			a.onCalib(now, off)
		}
	}

	res := a.engine.Apply(cfg)
	a.ticks++
	a.metrics.SetUnmappedTargets(res.Unmapped)
	a.metrics.SetQueueDepth(a.queue.Len())

	for _, o := range a.observers {
		o.Observe(now, res)
	}

	a.mu.Lock()
	a.snap = Snapshot{
		Ticks:       a.ticks,
		Messages:    a.messages,
		LastMessage: a.lastMessage,
		Sender:      a.sender,
		Result:      res,
		Calibration: a.engine.Calibration().Offset,
		Config:      cfg,
		Bound:       a.engine.Binding().Bound(),
	}
	a.mu.Unlock()
	return res
}

// Snapshot returns the state recorded by the last tick.
func (a *Animator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.snap
	if s.Result.Weights != nil {
		w := make(map[string]float64, len(s.Result.Weights))
		for k, v := range s.Result.Weights {
			w[k] = v
		}
		s.Result.Weights = w
	}
	return s
}

// Run ticks every interval on clock until ctx is done.
func (a *Animator) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("animator: tick interval must be positive")
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	monitoring.Logf("[animator] ticking every %v", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			a.Tick(now)
		}
	}
}
