package rig

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/num/quat"
)

// MemoryFace is an in-process Face with a fixed set of shapes.
type MemoryFace struct {
	mu      sync.Mutex
	weights map[string]float64
}

// NewMemoryFace returns a face carrying the given shapes, all at weight 0.
func NewMemoryFace(shapes ...string) *MemoryFace {
	w := make(map[string]float64, len(shapes))
	for _, s := range shapes {
		w[s] = 0
	}
	return &MemoryFace{weights: w}
}

func (f *MemoryFace) ShapeNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.weights))
	for n := range f.weights {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *MemoryFace) SetShapeWeight(name string, weight float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.weights[name]; !ok {
		return false
	}
	f.weights[name] = weight
	return true
}

// Weight returns the current weight of name.
func (f *MemoryFace) Weight(name string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.weights[name]
	return w, ok
}

// Weights returns a copy of all weights.
func (f *MemoryFace) Weights() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.weights))
	for k, v := range f.weights {
		out[k] = v
	}
	return out
}

// MemoryBone is an in-process Bone.
type MemoryBone struct {
	Name string

	mu  sync.Mutex
	rot quat.Number
}

// NewMemoryBone returns a bone whose rest rotation is rest.
func NewMemoryBone(name string, rest quat.Number) *MemoryBone {
	return &MemoryBone{Name: name, rot: rest}
}

func (b *MemoryBone) LocalRotation() quat.Number {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rot
}

func (b *MemoryBone) SetLocalRotation(q quat.Number) {
	b.mu.Lock()
	b.rot = q
	b.mu.Unlock()
}

// MemoryRig is a complete in-process rig: one face and three bones.
type MemoryRig struct {
	Face     *MemoryFace
	Head     *MemoryBone
	LeftEye  *MemoryBone
	RightEye *MemoryBone
}

// NewMemoryRig returns a rig with the given shapes and identity bones.
func NewMemoryRig(shapes ...string) *MemoryRig {
	id := quat.Number{Real: 1}
	return &MemoryRig{
		Face:     NewMemoryFace(shapes...),
		Head:     NewMemoryBone("Head", id),
		LeftEye:  NewMemoryBone("LeftEye", id),
		RightEye: NewMemoryBone("RightEye", id),
	}
}

// Binding returns the rig as a Binding.
func (r *MemoryRig) Binding() Binding {
	return Binding{Face: r.Face, Head: r.Head, LeftEye: r.LeftEye, RightEye: r.RightEye}
}
