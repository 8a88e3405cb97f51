// Package safego keeps background goroutines from taking the process down.
// Bot message handlers and scheduled sync runs both fan out through Go; a
// panic in one update must not kill the long-running service.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn on a new goroutine and absorbs any panic, logging the panic
// value and stack under the given name. The goroutine exits cleanly; the
// caller never sees the panic.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
