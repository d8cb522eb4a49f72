// Package replay feeds previously captured datagrams into the pipeline in
// place of the live receiver, either from a recorded session or from a
// packet capture file.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/network"
	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/monitoring"
	"github.com/banshee-data/facecap/internal/timeutil"
)

// Options controls pacing and delivery.
type Options struct {
	// Rate scales the original timing: 1 plays in real time, 2 twice as fast.
	// Zero or less plays as fast as the sink accepts messages.
	Rate float64
	// Filter, when set, drops messages whose sender differs.
	Filter string
	// Taps observe every delivered message, like the live receiver's taps.
	Taps  []network.Tap
	Clock timeutil.Clock
}

// Result summarises one replay.
type Result struct {
	Delivered int           `json:"delivered"`
	Skipped   int           `json:"skipped"`
	Span      time.Duration `json:"span"`
}

// Source provides recorded sessions.
type Source interface {
	SessionDatagrams(ctx context.Context, id string) ([]protocol.RawMessage, error)
}

// Session replays a recorded session into sink.
func Session(ctx context.Context, src Source, id string, sink network.MessageSink, opts Options) (Result, error) {
	msgs, err := src.SessionDatagrams(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load session %s: %w", id, err)
	}
	monitoring.Logf("[replay] session %s: %d datagrams at rate %.2f", id, len(msgs), opts.Rate)

	p := newPlayer(sink, opts)
	for _, m := range msgs {
		if err := p.play(ctx, m); err != nil {
			return p.res, err
		}
	}
	p.finish("session " + id)
	return p.res, nil
}

type player struct {
	sink  network.MessageSink
	opts  Options
	res   Result
	first time.Time
	prev  time.Time
}

func newPlayer(sink network.MessageSink, opts Options) *player {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	opts.Filter = network.NormalizeFilter(opts.Filter)
	return &player{sink: sink, opts: opts}
}

func (p *player) skip() { p.res.Skipped++ }

// play waits out the gap since the previous message and delivers m.
func (p *player) play(ctx context.Context, m protocol.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.opts.Filter != "" && m.Sender != p.opts.Filter {
		p.skip()
		return nil
	}
	if p.first.IsZero() {
		p.first = m.Received
	} else if p.opts.Rate > 0 {
		gap := time.Duration(float64(m.Received.Sub(p.prev)) / p.opts.Rate)
		if !timeutil.Sleep(p.opts.Clock, gap, ctx.Done()) {
			return ctx.Err()
		}
	}
	if m.Received.After(p.prev) {
		p.prev = m.Received
	}
	p.sink.Push(m)
	for _, t := range p.opts.Taps {
		t.Tap(m)
	}
	p.res.Delivered++
	p.res.Span = p.prev.Sub(p.first)
	return nil
}

func (p *player) finish(what string) {
	monitoring.Logf("[replay] %s complete: %d delivered, %d skipped, %v of capture",
		what, p.res.Delivered, p.res.Skipped, p.res.Span)
}

// ErrNoPayload is returned when a capture holds no matching datagrams.
var ErrNoPayload = errors.New("replay: no matching datagrams")
