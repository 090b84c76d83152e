// This package used for locking goroutines to
// the main OS thread.
// See: https://github.com/golang/go/wiki/LockOSThread
package thread

import (
	"sync/atomic"

	"github.com/faiface/mainthread"
)

var running atomic.Bool

// Wrap runs the function with the main thread serving Call.
// It should be called from the main function and returns when f returns.
func Wrap(f func()) {
	running.Store(true)
	defer running.Store(false)
	mainthread.Run(f)
}

// Call calls a function on the main thread and waits for it.
// Without Wrap the function is called in place.
func Call(f func()) {
	if running.Load() {
		mainthread.Call(f)
	} else {
		f()
	}
}

// CallErr is Call for functions with an error.
func CallErr(f func() error) error {
	if running.Load() {
		return mainthread.CallErr(f)
	}
	return f()
}
