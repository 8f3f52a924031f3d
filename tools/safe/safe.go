package safe

import (
	"PPRelay/logger"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// Go starts a new goroutine that recovers from panic, so that panics don't
// crash the entire program. name shows up in the panic log.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f on the current goroutine and converts a panic into a log line.
// It reports whether f returned normally.
func Run(name string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("panic recovered",
				zap.String("name", name),
				zap.Error(errs.ErrPanic(r)),
				zap.Stack("stack"),
			)
			ok = false
		}
	}()
	f()
	return true
}
