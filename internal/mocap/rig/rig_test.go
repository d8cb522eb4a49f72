package rig

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/num/quat"
)

func TestMemoryFace_SetShapeWeight(t *testing.T) {
	f := NewMemoryFace("あ", "い")
	if !f.SetShapeWeight("あ", 42) {
		t.Fatal("expected known shape to be set")
	}
	if f.SetShapeWeight("missing", 10) {
		t.Error("expected unknown shape to report false")
	}
	if w, _ := f.Weight("あ"); w != 42 {
		t.Errorf("weight = %v, want 42", w)
	}
	if _, ok := f.Weight("missing"); ok {
		t.Error("unknown shape should not be created by a failed set")
	}
	names := f.ShapeNames()
	if len(names) != 2 || names[0] != "あ" || names[1] != "い" {
		t.Errorf("unexpected shape names %v", names)
	}
}

func TestMemoryBone(t *testing.T) {
	b := NewMemoryBone("Head", quat.Number{Real: 1})
	q := quat.Number{Real: 0, Jmag: 1}
	b.SetLocalRotation(q)
	if got := b.LocalRotation(); got != q {
		t.Errorf("LocalRotation = %v, want %v", got, q)
	}
}

func TestBinding_Bound(t *testing.T) {
	if (Binding{}).Bound() {
		t.Error("zero binding should not be bound")
	}
	if !(Binding{Head: NewMemoryBone("h", quat.Number{})}).Bound() {
		t.Error("binding with a head should be bound")
	}
}

func TestPickFaceMesh(t *testing.T) {
	faces := []Face{
		NewMemoryFace("a"),
		nil,
		NewMemoryFace("a", "b", "c"),
		NewMemoryFace("x", "y", "z"),
	}
	if got := PickFaceMesh(faces); got != 2 {
		t.Errorf("PickFaceMesh = %d, want 2", got)
	}
	if got := PickFaceMesh([]Face{NewMemoryFace()}); got != -1 {
		t.Errorf("PickFaceMesh with no shapes = %d, want -1", got)
	}
}

func TestPickHeadBone(t *testing.T) {
	tests := []struct {
		names []string
		want  int
	}{
		{[]string{"Hips", "Spine", "Neck", "Head"}, 3},
		{[]string{"HeadMesh", "J_Bip_C_Head"}, 1},
		{[]string{"Hips", "Spine"}, -1},
		{nil, -1},
	}
	for _, tt := range tests {
		if got := PickHeadBone(tt.names); got != tt.want {
			t.Errorf("PickHeadBone(%v) = %d, want %d", tt.names, got, tt.want)
		}
	}
}

func TestHeuristicResolver(t *testing.T) {
	face := NewMemoryFace("あ", "い")
	head := NewMemoryBone("J_Bip_C_Head", quat.Number{Real: 1})
	left := NewMemoryBone("LeftEye", quat.Number{Real: 1})

	r := HeuristicResolver{
		Faces: func() []Face { return []Face{NewMemoryFace("a"), face} },
		Bones: func() []NamedBone {
			return []NamedBone{
				{Name: "Face_Mesh_Head", Bone: NewMemoryBone("Face_Mesh_Head", quat.Number{})},
				{Name: head.Name, Bone: head},
				{Name: left.Name, Bone: left},
			}
		},
	}
	b, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Face != Face(face) {
		t.Error("expected face with most shapes")
	}
	if b.Head != Bone(head) {
		t.Error("expected head bone by name")
	}
	if b.LeftEye != Bone(left) || b.RightEye != nil {
		t.Error("unexpected eye bones")
	}

	_, err = HeuristicResolver{}.Resolve()
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestFanout(t *testing.T) {
	a := NewMemoryBone("screen", quat.Number{Real: 1})
	b := NewMemoryBone("servo", quat.Number{Real: 1})
	f := Fanout{a, b}

	q := quat.Number{Real: 0.7071067811865476, Imag: 0.7071067811865476}
	f.SetLocalRotation(q)
	if a.LocalRotation() != q || b.LocalRotation() != q {
		t.Errorf("rotation not written to every bone: %v %v", a.LocalRotation(), b.LocalRotation())
	}
	if f.LocalRotation() != q {
		t.Errorf("LocalRotation() = %v", f.LocalRotation())
	}
	if (Fanout{}).LocalRotation() != (quat.Number{Real: 1}) {
		t.Error("empty fanout should read as identity")
	}
}
