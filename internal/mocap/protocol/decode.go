package protocol

import (
	"math"
	"strconv"
	"strings"
)

const (
	headMarker     = "head#"
	groupSeparator = '#'
)

// eyeMarkers are the rotation groups recognised besides the head. Their values
// can be negative, so they must be claimed before the key-value rule sees the
// '-' inside them.
var eyeMarkers = []string{"rightEye", "leftEye"}

// Decode parses one message. It never fails: malformed fields are skipped and
// counted in SkippedFields, and an empty message yields an empty Frame.
func Decode(text string) Frame {
	var f Frame
	if text == "" {
		return f
	}

	for _, field := range strings.Split(text, "|") {
		if field == "" {
			continue
		}

		if idx := strings.Index(field, headMarker); idx >= 0 {
			rest := field[idx+len(headMarker):]
			if rest == "" {
				f.SkippedFields++
				continue
			}
			f.Head = parseChannels(rest)
			f.HasHead = true
			continue
		}

		if marker, rest, ok := eyeGroup(field); ok {
			if f.Eyes == nil {
				f.Eyes = make(map[string][]float64, len(eyeMarkers))
			}
			f.Eyes[marker] = parseChannels(rest)
			continue
		}

		if strings.IndexByte(field, '-') >= 0 {
			key, value, ok := parseExpression(field)
			if !ok {
				f.SkippedFields++
				continue
			}
			f.setExpression(key, value)
		}
	}

	return f
}

// parseChannels splits a comma-separated channel list. A channel that does not
// parse keeps its slot with value 0 so later indices stay aligned.
func parseChannels(s string) []float64 {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

// parseExpression splits "<key>-<value>" on the first '-'.
func parseExpression(field string) (string, float64, bool) {
	key, raw, _ := strings.Cut(field, "-")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", 0, false
	}
	return key, v, true
}

func eyeGroup(field string) (string, string, bool) {
	idx := strings.IndexByte(field, groupSeparator)
	if idx < 0 {
		return "", "", false
	}
	name := field[:idx]
	for _, m := range eyeMarkers {
		if name == m {
			return m, field[idx+1:], true
		}
	}
	return "", "", false
}
