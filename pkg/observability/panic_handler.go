package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
//
//	func serve() {
//	    defer observability.RecoverPanic(logger, "request handler")
//	    // ... code that might panic
//	}
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover converts a recovered value into an error, or nil when nothing panicked.
//
//	func load() (p Provider, err error) {
//	    defer func() {
//	        if rErr := observability.MustRecover(recover()); rErr != nil {
//	            err = rErr
//	        }
//	    }()
//	    return loader(ctx)
//	}
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
