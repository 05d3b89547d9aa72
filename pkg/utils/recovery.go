package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// RecoverFn is a function that handles a recovered panic
type RecoverFn func(r interface{}, stack []byte)

// SafeGo executes the given function in a goroutine with panic recovery
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				if logger.Log != nil {
					logger.Log.Error("[panic] Recovered from panic in goroutine",
						zap.Any("panic", r),
						zap.ByteString("stack", stack),
					)
				} else {
					fmt.Fprintf(os.Stderr, "[PANIC] Recovered from panic in goroutine: %v\n%s\n", r, stack)
				}
			}
		}()
		fn()
	}()
}

// RecoverWithLog provides a standard way to recover from panics with logging.
// It must be deferred directly.
func RecoverWithLog(ctx context.Context, operation string) {
	if r := recover(); r != nil {
		logger.FromContext(ctx).Error(fmt.Sprintf("[panic] Recovered from panic during %s", operation),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
			zap.Time("recovery_time", Now()),
		)
	}
}

// WrapWithContextRecovery wraps a function that takes a context with panic
// recovery, turning the panic into an error.
func WrapWithContextRecovery(fn func(ctx context.Context) error) func(ctx context.Context) (err error) {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("[panic] Recovered from panic",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
					zap.Time("recovery_time", time.Now()),
				)
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return fn(ctx)
	}
}
