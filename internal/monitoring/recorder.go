package monitoring

// Recorder receives pipeline counters. Implementations must be safe for
// concurrent use: the receive loop, the animator and the relay all report
// from their own goroutines.
type Recorder interface {
	DatagramReceived(bytes int)
	DatagramAccepted()
	DatagramFiltered()
	DatagramInvalid()
	ReadFault()
	FieldsSkipped(n int)
	SetUnmappedTargets(n int)
	Calibrated()
	RelayDropped()
	RecorderDropped()
	SetQueueDepth(n int)
	SetConnected(connected bool)
}

// NoopRecorder is the Recorder used when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) DatagramReceived(int)   {}
func (NoopRecorder) DatagramAccepted()      {}
func (NoopRecorder) DatagramFiltered()      {}
func (NoopRecorder) DatagramInvalid()       {}
func (NoopRecorder) ReadFault()             {}
func (NoopRecorder) FieldsSkipped(int)      {}
func (NoopRecorder) SetUnmappedTargets(int) {}
func (NoopRecorder) Calibrated()            {}
func (NoopRecorder) RelayDropped()          {}
func (NoopRecorder) RecorderDropped()       {}
func (NoopRecorder) SetQueueDepth(int)      {}
func (NoopRecorder) SetConnected(bool)      {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
