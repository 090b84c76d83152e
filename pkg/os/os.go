package os

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
)

// Process exit codes.
const (
	ExitOk          = 0
	ExitFail        = 1
	ExitInterrupted = 123
)

func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func ExpectTermination() chan struct{} {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{}, 1)
	go func() {
		<-signals
		done <- struct{}{}
	}()
	return done
}

// WithTermination returns a context that is cancelled on SIGINT or SIGTERM.
// The interrupted func tells if it was a signal.
func WithTermination(parent context.Context) (ctx context.Context, interrupted func() bool, stop context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := ExpectTermination()
	sig := make(chan struct{})
	go func() {
		select {
		case <-done:
			close(sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	interrupted = func() bool {
		select {
		case <-sig:
			return true
		default:
			return false
		}
	}
	return ctx, interrupted, cancel
}

// ExitCode maps the result of a run into the process exit code.
func ExitCode(err error, interrupted bool) int {
	switch {
	case interrupted:
		return ExitInterrupted
	case err == nil:
		return ExitOk
	}
	return ExitFail
}
