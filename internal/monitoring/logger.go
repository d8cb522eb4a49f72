// Package monitoring holds the process-wide diagnostic logger and the metrics
// recorder used by the capture pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var logger atomic.Pointer[logFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf writes a diagnostic line through the current logger. It defaults to
// log.Printf.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// SetLogger replaces the package logger and returns the previous one. Passing
// nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	fn := logFunc(f)
	prev := logger.Swap(&fn)
	if prev == nil {
		return nil
	}
	return *prev
}
