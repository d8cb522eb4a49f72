package retarget

import "testing"

func TestRemap(t *testing.T) {
	tests := []struct {
		raw    string
		mirror bool
		want   string
	}{
		{"jawOpen", false, "あ"},
		{"jawOpen", true, "あ"},
		{"mouthLowerDown_L", false, "い"},
		{"mouthLowerDown_R", false, "い"},
		{"mouthFunnel", false, "う"},
		{"mouthPucker", false, "お"},
		{"mouthUpperUp_L", false, "え"},
		{"mouthUpperUp_R", false, "え"},
		{"eyeBlink_L", false, "ウィンク"},
		{"eyeBlink_R", false, "ウィンク右"},
		{"eyeBlink_L", true, "ウィンク右"},
		{"eyeBlink_R", true, "ウィンク"},
		{"mouthSmile_L", false, "笑い"},
		{"mouthSmile_R", true, "笑い"},
		{"browDown_L", true, "怒り"},
		{"browInnerUp", false, "困る"},
		{"eyeSquint_L", true, "eyeSquint_R"},
		{"eyeSquint_L", false, "eyeSquint_L"},
		{"cheekPuff", true, "cheekPuff"},
		{"", false, ""},
	}
	for _, tt := range tests {
		if got := Remap(tt.raw, tt.mirror); got != tt.want {
			t.Errorf("Remap(%q, %v) = %q, want %q", tt.raw, tt.mirror, got, tt.want)
		}
	}
}

func TestMirror_Involution(t *testing.T) {
	keys := []string{
		"eyeBlink_L", "eyeBlink_R",
		"eyeSquint_L", "eyeSquint_R",
		"browDown_L", "browDown_R",
		"jawOpen", "mouthSmile_L", "anything",
	}
	for _, k := range keys {
		if got := Mirror(Mirror(k)); got != k {
			t.Errorf("Mirror(Mirror(%q)) = %q", k, got)
		}
	}
	for _, k := range []string{"eyeSquint_L", "eyeSquint_R"} {
		if got := Remap(Remap(k, true), true); got != k {
			t.Errorf("Remap(Remap(%q)) = %q", k, got)
		}
	}
	if Mirror("mouthSmile_L") != "mouthSmile_L" {
		t.Error("keys outside the swap set must not change")
	}
}

func TestScaleWeight(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{0.5, 50},
		{1, 100},
		{1.5, 1.5},
		{75, 75},
		{100, 100},
		{250, 100},
		{-0.3, 0},
		{-20, 0},
	}
	for _, tt := range tests {
		if got := ScaleWeight(tt.in); got != tt.want {
			t.Errorf("ScaleWeight(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
