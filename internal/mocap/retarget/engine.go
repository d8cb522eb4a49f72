// Package retarget turns decoded capture frames into head rotations and shape
// weights for a character rig.
package retarget

import (
	"sort"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/rig"
)

// Config controls how frames are retargeted. It is read on every call.
type Config struct {
	MirrorEyes         bool    `json:"mirror_eyes"`
	AnglesInRadians    bool    `json:"angles_in_radians"`
	PitchIndex         int     `json:"pitch_index"`
	YawIndex           int     `json:"yaw_index"`
	RollIndex          int     `json:"roll_index"`
	RotationMultiplier Vec3    `json:"rotation_multiplier"`
	Sensitivity        float64 `json:"sensitivity"`
	ManualOffset       Vec3    `json:"manual_offset"`
}

// DefaultConfig returns the settings matching the common iOS sender layout.
func DefaultConfig() Config {
	return Config{
		MirrorEyes:         true,
		AnglesInRadians:    true,
		PitchIndex:         5,
		YawIndex:           3,
		RollIndex:          4,
		RotationMultiplier: Vec3{X: 1, Y: -1, Z: 1},
		Sensitivity:        5,
	}
}

// Calibration is the head orientation treated as zero.
type Calibration struct {
	Offset Euler
}

// ExpressionState holds the latest weight per shape name. Entries are never
// removed; a shape keeps its last weight until the sender updates it.
type ExpressionState struct {
	weights map[string]float64
}

// NewExpressionState returns an empty state.
func NewExpressionState() *ExpressionState {
	return &ExpressionState{weights: make(map[string]float64)}
}

// Set stores weight for name.
func (s *ExpressionState) Set(name string, weight float64) {
	s.weights[name] = weight
}

// Get returns the stored weight for name.
func (s *ExpressionState) Get(name string) (float64, bool) {
	w, ok := s.weights[name]
	return w, ok
}

func (s *ExpressionState) Len() int { return len(s.weights) }

// Names returns the stored shape names in sorted order.
func (s *ExpressionState) Names() []string {
	names := make([]string, 0, len(s.weights))
	for n := range s.weights {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every stored weight.
func (s *ExpressionState) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Apply writes every weight in frame to s after remapping and scaling.
// Within one frame a later field wins when two raw keys share a shape.
func (s *ExpressionState) Apply(f protocol.Frame, mirror bool) {
	for _, e := range f.Expressions {
		s.Set(Remap(e.Key, mirror), ScaleWeight(e.Value))
	}
}

// Result is the outcome of one retarget.
type Result struct {
	Head     Euler              `json:"head"`
	Final    Euler              `json:"final"`
	Rotation quat.Number        `json:"-"`
	Weights  map[string]float64 `json:"weights"`
	// Unmapped counts weights the bound face had no shape for.
	Unmapped int `json:"unmapped"`
}

// Engine owns the retargeting state carried between frames. It is not safe for
// concurrent use; a single consumer goroutine drives it.
type Engine struct {
	head    Euler
	hasHead bool
	eyes    map[string]Euler
	calib   Calibration
	state   *ExpressionState

	binding rig.Binding
	// rest rotations captured at Bind: head, left eye, right eye
	baseHead, baseLeft, baseRight quat.Number
}

// NewEngine returns an engine with an empty expression state and no binding.
func NewEngine() *Engine {
	return &Engine{
		eyes:  make(map[string]Euler),
		state: NewExpressionState(),
	}
}

// Bind sets the rig Apply writes to and captures each bone's rest rotation.
func (e *Engine) Bind(b rig.Binding) {
	e.binding = b
	e.baseHead = restRotation(b.Head)
	e.baseLeft = restRotation(b.LeftEye)
	e.baseRight = restRotation(b.RightEye)
}

func restRotation(b rig.Bone) quat.Number {
	if b == nil {
		return Identity
	}
	return Baseline(b.LocalRotation())
}

// Binding returns the current rig binding.
func (e *Engine) Binding() rig.Binding { return e.binding }

// Ingest folds one decoded frame into the engine state. A frame without a head
// field keeps the previous head orientation.
func (e *Engine) Ingest(f protocol.Frame, cfg Config) {
	if f.HasHead {
		e.head = HeadAngles(f, cfg)
		e.hasHead = true
	}
	for group, ch := range f.Eyes {
		e.eyes[group] = Euler{
			Pitch: channel(ch, 0),
			Yaw:   channel(ch, 1),
			Roll:  channel(ch, 2),
		}
	}
	e.state.Apply(f, cfg.MirrorEyes)
}

// Head returns the last normalized head orientation and whether any frame has
// carried one.
func (e *Engine) Head() (Euler, bool) { return e.head, e.hasHead }

// Calibrate makes the current head orientation the zero reference and returns
// the new offset.
func (e *Engine) Calibrate() Euler {
	e.calib.Offset = e.head
	return e.calib.Offset
}

// Calibration returns the active calibration.
func (e *Engine) Calibration() Calibration { return e.calib }

// SetCalibration replaces the active calibration.
func (e *Engine) SetCalibration(c Calibration) { e.calib = c }

// Expressions returns the engine's expression state.
func (e *Engine) Expressions() *ExpressionState { return e.state }

// Retarget computes the pose for the current state without touching the rig.
func (e *Engine) Retarget(cfg Config) Result {
	final := Pose(e.head, e.calib, cfg)
	return Result{
		Head:     e.head,
		Final:    final,
		Rotation: Compose(e.baseHead, final),
		Weights:  e.state.Snapshot(),
	}
}

// Apply retargets the current state onto the bound rig. With nothing bound
// only the computed Result is returned.
func (e *Engine) Apply(cfg Config) Result {
	res := e.Retarget(cfg)
	b := e.binding
	if !b.Bound() {
		return res
	}

	if b.Face != nil {
		for _, name := range e.state.Names() {
			w, _ := e.state.Get(name)
			if !b.Face.SetShapeWeight(name, w) {
				res.Unmapped++
			}
		}
	}
	if b.Head != nil {
		b.Head.SetLocalRotation(res.Rotation)
	}
	e.applyEye(b.LeftEye, e.baseLeft, "leftEye", "rightEye", cfg.MirrorEyes)
	e.applyEye(b.RightEye, e.baseRight, "rightEye", "leftEye", cfg.MirrorEyes)
	return res
}

func (e *Engine) applyEye(bone rig.Bone, base quat.Number, own, mirrored string, mirror bool) {
	if bone == nil {
		return
	}
	group := own
	if mirror {
		group = mirrored
	}
	rot, ok := e.eyes[group]
	if !ok {
		return
	}
	bone.SetLocalRotation(Compose(base, rot))
}

func channel(ch []float64, i int) float64 {
	if i < len(ch) {
		return ch[i]
	}
	return 0
}
