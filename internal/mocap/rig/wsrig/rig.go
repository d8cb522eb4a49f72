// Package wsrig is a rig with no local scene: the face weights and head
// rotation written by the animator are broadcast to WebSocket viewers that do
// the rendering.
package wsrig

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/mocap/rig"
	"github.com/banshee-data/facecap/internal/monitoring"
)

// Frame is the JSON message sent to viewers after every tick.
type Frame struct {
	At       time.Time          `json:"at"`
	Rotation [4]float64         `json:"rotation"` // w, x, y, z
	Head     retarget.Euler     `json:"head"`
	Weights  map[string]float64 `json:"weights"`
}

// Rig implements rig.Face and rig.Bone on in-memory state.
type Rig struct {
	hub *Hub

	mu       sync.Mutex
	fixed    bool
	weights  map[string]float64
	rotation quat.Number
}

var (
	_ rig.Face = (*Rig)(nil)
	_ rig.Bone = (*Rig)(nil)
)

// New returns a Rig that broadcasts on hub. With no shapes listed the face
// accepts any shape name; otherwise only the listed ones.
func New(hub *Hub, shapes ...string) *Rig {
	r := &Rig{
		hub:      hub,
		fixed:    len(shapes) > 0,
		weights:  make(map[string]float64, len(shapes)),
		rotation: retarget.Identity,
	}
	for _, s := range shapes {
		r.weights[s] = 0
	}
	return r
}

// Binding binds the face and the head bone.
func (r *Rig) Binding() rig.Binding {
	return rig.Binding{Face: r, Head: r}
}

func (r *Rig) ShapeNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.weights))
	for n := range r.weights {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Rig) SetShapeWeight(name string, weight float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.weights[name]; !ok && r.fixed {
		return false
	}
	r.weights[name] = weight
	return true
}

func (r *Rig) LocalRotation() quat.Number {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotation
}

func (r *Rig) SetLocalRotation(q quat.Number) {
	r.mu.Lock()
	r.rotation = q
	r.mu.Unlock()
}

// Frame returns the current state as a viewer frame.
func (r *Rig) Frame(at time.Time, head retarget.Euler) Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := make(map[string]float64, len(r.weights))
	for k, v := range r.weights {
		w[k] = v
	}
	q := r.rotation
	return Frame{
		At:       at,
		Rotation: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		Head:     head,
		Weights:  w,
	}
}

// Observe broadcasts the state written by the last apply. It is called on the
// animator goroutine after each tick.
func (r *Rig) Observe(at time.Time, res retarget.Result) {
	if r.hub == nil || r.hub.Clients() == 0 {
		return
	}
	msg, err := json.Marshal(r.Frame(at, res.Final))
	if err != nil {
		monitoring.Logf("[wsrig] encode frame: %v", err)
		return
	}
	r.hub.Broadcast(msg)
}
