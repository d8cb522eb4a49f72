package retarget

// mirrorPairs are the raw keys swapped left/right when mirroring is on.
var mirrorPairs = map[string]string{
	"eyeBlink_L":  "eyeBlink_R",
	"eyeBlink_R":  "eyeBlink_L",
	"eyeSquint_L": "eyeSquint_R",
	"eyeSquint_R": "eyeSquint_L",
	"browDown_L":  "browDown_R",
	"browDown_R":  "browDown_L",
}

// targetNames maps raw sender keys to the rig's shape names.
var targetNames = map[string]string{
	"jawOpen":          "あ",
	"mouthLowerDown_L": "い",
	"mouthLowerDown_R": "い",
	"mouthFunnel":      "う",
	"mouthPucker":      "お",
	"mouthUpperUp_L":   "え",
	"mouthUpperUp_R":   "え",
	"eyeBlink_L":       "ウィンク",
	"eyeBlink_R":       "ウィンク右",
	"mouthSmile_L":     "笑い",
	"mouthSmile_R":     "笑い",
	"browDown_L":       "怒り",
	"browDown_R":       "怒り",
	"browInnerUp":      "困る",
}

// Mirror swaps the left/right variant of raw keys that have one and returns
// every other key unchanged. Mirror(Mirror(k)) == k for all k.
func Mirror(raw string) string {
	if swapped, ok := mirrorPairs[raw]; ok {
		return swapped
	}
	return raw
}

// Remap returns the shape name a raw key drives. Keys without a table entry
// pass through unchanged.
func Remap(raw string, mirror bool) string {
	if mirror {
		raw = Mirror(raw)
	}
	if name, ok := targetNames[raw]; ok {
		return name
	}
	return raw
}

// ScaleWeight converts a raw value to the 0-100 shape weight range. Senders
// emit either 0-1 or 0-100; values inside [0,1] are treated as the former.
func ScaleWeight(v float64) float64 {
	if v >= 0 && v <= 1 {
		v *= 100
	}
	return clamp(v, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
