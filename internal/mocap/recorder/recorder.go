// Package recorder persists accepted datagrams and calibrations to a session
// store without slowing the receive loop.
package recorder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/monitoring"
	"github.com/banshee-data/facecap/internal/timeutil"
)

// Store is the part of the session database the recorder writes to.
type Store interface {
	RecordDatagrams(ctx context.Context, sessionID string, msgs []protocol.RawMessage) error
	RecordCalibration(ctx context.Context, sessionID string, at time.Time, offset retarget.Euler) error
}

// DropCounter is told about every datagram the recorder could not buffer.
type DropCounter interface {
	AddDropped()
}

// Config configures a Recorder.
type Config struct {
	Store     Store
	SessionID string
	// BatchSize is the most datagrams written in one transaction.
	BatchSize int
	// FlushInterval bounds how long a datagram waits before it is written.
	FlushInterval time.Duration
	// Buffer is how many datagrams may wait for the writer.
	Buffer  int
	Clock   timeutil.Clock
	Metrics monitoring.Recorder
	Drops   DropCounter
}

type calibration struct {
	at     time.Time
	offset retarget.Euler
}

// Recorder buffers datagrams from the receiver and writes them in batches.
type Recorder struct {
	cfg    Config
	msgs   chan protocol.RawMessage
	calibs chan calibration

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// New returns a Recorder; nothing is written until Run.
func New(cfg Config) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	cfg.Metrics = monitoring.OrNoop(cfg.Metrics)
	return &Recorder{
		cfg:    cfg,
		msgs:   make(chan protocol.RawMessage, cfg.Buffer),
		calibs: make(chan calibration, 16),
	}
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() string { return r.cfg.SessionID }

// Tap queues msg for writing. It never blocks; when the buffer is full the
// message is dropped and counted.
func (r *Recorder) Tap(msg protocol.RawMessage) {
	select {
	case r.msgs <- msg:
	default:
		r.drop()
	}
}

func (r *Recorder) drop() {
	n := r.dropped.Add(1)
	r.cfg.Metrics.RecorderDropped()
	if r.cfg.Drops != nil {
		r.cfg.Drops.AddDropped()
	}
	if n == 1 || n%1000 == 0 {
		monitoring.Logf("[recorder] buffer full, %d datagrams dropped", n)
	}
}

// OnCalibrate queues a calibration for writing. It matches the animator's
// calibration hook and never blocks.
func (r *Recorder) OnCalibrate(at time.Time, offset retarget.Euler) {
	select {
	case r.calibs <- calibration{at: at, offset: offset}:
	default:
		monitoring.Logf("[recorder] calibration at %s dropped", at.Format(time.RFC3339))
	}
}

// Stats returns datagrams written, dropped, and lost to write errors.
func (r *Recorder) Stats() (recorded, dropped, failed uint64) {
	return r.recorded.Load(), r.dropped.Load(), r.failed.Load()
}

// Run writes queued datagrams until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	if r.cfg.Store == nil {
		return errors.New("recorder: no store")
	}
	ticker := r.cfg.Clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]protocol.RawMessage, 0, r.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.cfg.Store.RecordDatagrams(ctx, r.cfg.SessionID, batch); err != nil {
			r.failed.Add(uint64(len(batch)))
			monitoring.Logf("[recorder] failed to write %d datagrams: %v", len(batch), err)
		} else {
			r.recorded.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}
	// pending moves the datagrams already queued into the batch.
	pending := func(ctx context.Context) {
		for n := len(r.msgs); n > 0; n-- {
			batch = append(batch, <-r.msgs)
			if len(batch) >= r.cfg.BatchSize {
				flush(ctx)
			}
		}
	}
	writeCalib := func(ctx context.Context, c calibration) {
		pending(ctx)
		flush(ctx)
		if err := r.cfg.Store.RecordCalibration(ctx, r.cfg.SessionID, c.at, c.offset); err != nil {
			monitoring.Logf("[recorder] failed to write calibration: %v", err)
		}
	}

	for {
		select {
		case msg := <-r.msgs:
			batch = append(batch, msg)
			if len(batch) >= r.cfg.BatchSize {
				flush(ctx)
			}
		case c := <-r.calibs:
			// Datagrams queued before the calibration are written first.
			writeCalib(ctx, c)
		case <-ticker.C():
			flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case msg := <-r.msgs:
					batch = append(batch, msg)
					if len(batch) >= r.cfg.BatchSize {
						flush(final)
					}
					continue
				case c := <-r.calibs:
					writeCalib(final, c)
					continue
				default:
				}
				break
			}
			flush(final)
			rec, dropped, failed := r.Stats()
			monitoring.Logf("[recorder] session %s closed: %d recorded, %d dropped, %d failed",
				r.cfg.SessionID, rec, dropped, failed)
			return ctx.Err()
		}
	}
}
