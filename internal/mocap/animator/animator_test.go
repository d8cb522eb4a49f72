package animator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/mocap/rig"
	"github.com/banshee-data/facecap/internal/monitoring"
	"github.com/banshee-data/facecap/internal/timeutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func degreesConfig() retarget.Config {
	cfg := retarget.DefaultConfig()
	cfg.AnglesInRadians = false
	cfg.PitchIndex, cfg.YawIndex, cfg.RollIndex = 0, 1, 2
	cfg.RotationMultiplier = retarget.Vec3{X: 1, Y: 1, Z: 1}
	cfg.Sensitivity = 1
	return cfg
}

func push(a *Animator, text string) {
	a.Queue().Push(protocol.RawMessage{Text: text, Sender: "10.0.0.5", Received: epoch})
}

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestTick_AppliesQueuedMessagesInOrder(t *testing.T) {
	r := rig.NewMemoryRig("あ", "う")
	a := New(Config{Retarget: retarget.DefaultConfig()})
	a.Bind(r.Binding())

	push(a, "jawOpen-0.2")
	push(a, "jawOpen-0.7|mouthFunnel-30")
	res := a.Tick(epoch)

	w, _ := r.Face.Weight("あ")
	assert.InDelta(t, 70, w, 1e-9)
	w, _ = r.Face.Weight("う")
	assert.InDelta(t, 30, w, 1e-9)
	assert.Equal(t, 0, res.Unmapped)

	snap := a.Snapshot()
	assert.Equal(t, uint64(2), snap.Messages)
	assert.Equal(t, uint64(1), snap.Ticks)
	assert.Equal(t, "10.0.0.5", snap.Sender)
	assert.True(t, snap.Bound)
}

func TestTick_CalibrationAfterDrain(t *testing.T) {
	var calibrated []retarget.Euler
	a := New(Config{
		Retarget: degreesConfig(),
		OnCalibrate: func(_ time.Time, off retarget.Euler) {
			calibrated = append(calibrated, off)
		},
	})

	push(a, "head#10,20,30")
	a.RequestCalibration()
	res := a.Tick(epoch)

	require.Len(t, calibrated, 1)
	assert.Equal(t, retarget.Euler{Pitch: 10, Yaw: 20, Roll: 30}, calibrated[0])
	assert.InDelta(t, 0, res.Final.Pitch, 1e-9)
	assert.InDelta(t, 0, res.Final.Yaw, 1e-9)
	assert.InDelta(t, 0, res.Final.Roll, 1e-9)

	// The trigger resets after one use.
	push(a, "head#15,20,30")
	res = a.Tick(epoch.Add(time.Second))
	assert.Len(t, calibrated, 1)
	assert.InDelta(t, 5, res.Final.Pitch, 1e-9)
	assert.Equal(t, retarget.Euler{Pitch: 10, Yaw: 20, Roll: 30}, a.Snapshot().Calibration)
}

func TestTick_DispatcherRunsBeforeMessages(t *testing.T) {
	a := New(Config{Retarget: retarget.DefaultConfig()})

	push(a, "head#5,0,0")
	a.SetConfig(degreesConfig())
	res := a.Tick(epoch)

	assert.InDelta(t, 5, res.Head.Pitch, 1e-9, "config change must apply to messages drained in the same tick")
	assert.Equal(t, degreesConfig(), a.Snapshot().Config)
}

func TestTick_UnboundRig(t *testing.T) {
	a := New(Config{Retarget: retarget.DefaultConfig()})
	push(a, "jawOpen-1")
	res := a.Tick(epoch)
	assert.InDelta(t, 100, res.Weights["あ"], 1e-9)
	assert.False(t, a.Snapshot().Bound)
}

func TestTick_ObserversSeeResult(t *testing.T) {
	var seen []time.Time
	a := New(Config{
		Retarget: retarget.DefaultConfig(),
		Observers: []Observer{ObserverFunc(func(at time.Time, _ retarget.Result) {
			seen = append(seen, at)
		})},
	})
	extra := 0
	a.AddObserver(ObserverFunc(func(time.Time, retarget.Result) { extra++ }))

	a.Tick(epoch)
	a.Tick(epoch.Add(time.Second))
	assert.Equal(t, []time.Time{epoch, epoch.Add(time.Second)}, seen)
	assert.Equal(t, 2, extra)
}

func TestSnapshot_IsACopy(t *testing.T) {
	a := New(Config{Retarget: retarget.DefaultConfig()})
	push(a, "jawOpen-0.5")
	a.Tick(epoch)

	snap := a.Snapshot()
	snap.Result.Weights["あ"] = 0
	assert.InDelta(t, 50, a.Snapshot().Result.Weights["あ"], 1e-9)
}

func TestResolve(t *testing.T) {
	a := New(Config{Retarget: retarget.DefaultConfig()})
	r := rig.NewMemoryRig("あ")

	err := a.Resolve(rig.ResolverFunc(func() (rig.Binding, error) {
		return rig.Binding{}, rig.ErrNoFace
	}))
	assert.ErrorIs(t, err, rig.ErrNoFace)

	require.NoError(t, a.Resolve(rig.ResolverFunc(func() (rig.Binding, error) {
		return r.Binding(), nil
	})))
	push(a, "jawOpen-1")
	a.Tick(epoch)
	w, _ := r.Face.Weight("あ")
	assert.InDelta(t, 100, w, 1e-9)

	assert.Error(t, a.Resolve(nil))
}

func TestRun_TicksOnClock(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	var mu sync.Mutex
	ticks := 0
	a := New(Config{
		Retarget: retarget.DefaultConfig(),
		Observers: []Observer{ObserverFunc(func(time.Time, retarget.Result) {
			mu.Lock()
			ticks++
			mu.Unlock()
		})},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, clock, 10*time.Millisecond) }()

	clock.BlockUntil(1)
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Millisecond)
		deadline := time.Now().Add(time.Second)
		for {
			mu.Lock()
			n := ticks
			mu.Unlock()
			if n == i+1 || time.Now().After(deadline) {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, ticks)
}

func TestRun_RejectsBadInterval(t *testing.T) {
	a := New(Config{})
	assert.Error(t, a.Run(context.Background(), timeutil.RealClock{}, 0))
}

func TestRequestCalibration_ConcurrentWithTick(t *testing.T) {
	a := New(Config{Retarget: degreesConfig()})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			a.RequestCalibration()
			push(a, "head#1,2,3")
		}
	}()
	for i := 0; i < 100; i++ {
		a.Tick(epoch)
		_ = a.Snapshot()
	}
	wg.Wait()
	a.Tick(epoch)
	assert.Equal(t, retarget.Euler{Pitch: 1, Yaw: 2, Roll: 3}, a.Snapshot().Calibration)
}
