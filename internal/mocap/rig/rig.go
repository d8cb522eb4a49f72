// Package rig defines the surface of a character rig that retargeting writes to:
// a face with named shape weights and bones with a local rotation.
package rig

import (
	"errors"

	"gonum.org/v1/gonum/num/quat"
)

// ErrNoFace is returned by resolvers that found no mesh carrying shapes.
var ErrNoFace = errors.New("rig: no face mesh found")

// Face exposes named shape weights in the range [0, 100].
type Face interface {
	ShapeNames() []string
	// SetShapeWeight reports false when the face has no shape called name.
	SetShapeWeight(name string, weight float64) bool
}

// Bone is a transform with a settable local rotation.
type Bone interface {
	LocalRotation() quat.Number
	SetLocalRotation(q quat.Number)
}

// Binding groups the rig parts a retarget writes to. Any field may be nil.
type Binding struct {
	Face     Face
	Head     Bone
	LeftEye  Bone
	RightEye Bone
}

// Bound reports whether anything in b can be written to.
func (b Binding) Bound() bool {
	return b.Face != nil || b.Head != nil || b.LeftEye != nil || b.RightEye != nil
}

// Resolver discovers a Binding from whatever scene the host owns.
type Resolver interface {
	Resolve() (Binding, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func() (Binding, error)

// Resolve calls f.
func (f ResolverFunc) Resolve() (Binding, error) { return f() }

// Fanout is a Bone that drives several bones at once, such as an on-screen
// head and a physical one. Reads come from the first bone.
type Fanout []Bone

func (f Fanout) LocalRotation() quat.Number {
	if len(f) == 0 {
		return quat.Number{Real: 1}
	}
	return f[0].LocalRotation()
}

func (f Fanout) SetLocalRotation(q quat.Number) {
	for _, b := range f {
		b.SetLocalRotation(q)
	}
}
