// Package monitoring reports unexpected failures of background work: solves
// that fail for reasons other than cancellation, rejected disruption
// commands and panics in long-running goroutines.
package monitoring

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any, stack []byte, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string)   {}
func (NopMonitor) CapturePanic(any, []byte, map[string]string) {}
func (NopMonitor) Flush(time.Duration)                         {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Recover captures a panic of the calling goroutine and stops it from
// crashing the process. It must be deferred directly:
//
//	defer monitoring.Recover("mqtt_forwarder")
func Recover(component string) {
	if r := recover(); r != nil {
		get().CapturePanic(r, debug.Stack(), map[string]string{"component": component})
	}
}

// PanicError converts a recovered value into an error.
func PanicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}
