// Package protocol decodes the pipe-delimited facial capture text format.
//
// A message is a list of fields separated by '|':
//
//	mouthSmile_R-0|jawOpen-0.42|=head#-21.4,-6.0,-4.6,-0.014,-0.020,-0.29|rightEye#6.9,2.3,0.8|
//
// Fields carrying "head#" hold comma-separated head channels. Fields shaped
// "<key>-<value>" carry one expression weight. Everything else is ignored.
package protocol

import "time"

// DefaultPort is the UDP port facial capture senders stream to by default.
const DefaultPort = 49983

// RawMessage is one accepted datagram, decoded to text.
type RawMessage struct {
	Text     string
	Sender   string
	Received time.Time
}

// Expression is one raw expression weight as sent on the wire.
type Expression struct {
	Key   string
	Value float64
}

// Frame is the decoded content of a single message.
type Frame struct {
	// Head holds the head channels in wire order. Which channel is pitch, yaw
	// or roll is decided by configuration, not by position.
	Head    []float64
	HasHead bool

	// Expressions keeps first-seen order; a repeated key overwrites the value
	// in place.
	Expressions []Expression

	// Eyes holds per-eye rotation groups keyed by marker ("rightEye", "leftEye").
	Eyes map[string][]float64

	// SkippedFields counts malformed fields that were dropped.
	SkippedFields int
}

// Channel returns head channel i, or 0 when i is outside the decoded channels.
func (f Frame) Channel(i int) float64 {
	if i < 0 || i >= len(f.Head) {
		return 0
	}
	return f.Head[i]
}

// Expression returns the raw value sent for key.
func (f Frame) Expression(key string) (float64, bool) {
	for _, e := range f.Expressions {
		if e.Key == key {
			return e.Value, true
		}
	}
	return 0, false
}

// Empty reports whether the frame carries nothing to apply.
func (f Frame) Empty() bool {
	return !f.HasHead && len(f.Expressions) == 0 && len(f.Eyes) == 0
}

func (f *Frame) setExpression(key string, value float64) {
	for i := range f.Expressions {
		if f.Expressions[i].Key == key {
			f.Expressions[i].Value = value
			return
		}
	}
	f.Expressions = append(f.Expressions, Expression{Key: key, Value: value})
}
