package rig

import "strings"

// PickFaceMesh returns the index of the face carrying the most shapes, or -1
// when none carries any. Ties keep the first candidate.
func PickFaceMesh(faces []Face) int {
	best, most := -1, 0
	for i, f := range faces {
		if f == nil {
			continue
		}
		if n := len(f.ShapeNames()); n > most {
			best, most = i, n
		}
	}
	return best
}

// PickHeadBone returns the index of the first name that looks like a head
// bone: it contains "head" but not "mesh", case-insensitively. It returns -1
// when nothing matches.
func PickHeadBone(names []string) int {
	for i, n := range names {
		l := strings.ToLower(n)
		if strings.Contains(l, "head") && !strings.Contains(l, "mesh") {
			return i
		}
	}
	return -1
}

// NamedBone pairs a bone with the name the host knows it by.
type NamedBone struct {
	Name string
	Bone Bone
}

// HeuristicResolver picks the face with the most shapes and the first bone
// whose name looks like a head. Eye bones are taken by exact name when
// present.
type HeuristicResolver struct {
	Faces func() []Face
	Bones func() []NamedBone
}

func (h HeuristicResolver) Resolve() (Binding, error) {
	var b Binding
	if h.Faces != nil {
		faces := h.Faces()
		if i := PickFaceMesh(faces); i >= 0 {
			b.Face = faces[i]
		}
	}
	if h.Bones != nil {
		bones := h.Bones()
		names := make([]string, len(bones))
		for i, nb := range bones {
			names[i] = nb.Name
			switch strings.ToLower(nb.Name) {
			case "lefteye", "eye_l", "eye.l":
				b.LeftEye = nb.Bone
			case "righteye", "eye_r", "eye.r":
				b.RightEye = nb.Bone
			}
		}
		if i := PickHeadBone(names); i >= 0 {
			b.Head = bones[i].Bone
		}
	}
	if b.Face == nil {
		return b, ErrNoFace
	}
	return b, nil
}
