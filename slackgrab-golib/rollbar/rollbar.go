// Package rollbar reports errors and recovered panics from the engine's
// background goroutines. Reporting is a no-op unless SLACKGRAB_ROLLBAR_TOKEN
// is set; without a token, reports are only logged.
package rollbar

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	rollbar "github.com/rollbar/rollbar-go"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"go.uber.org/zap"
)

var (
	mu        sync.RWMutex
	withPanic bool
	logger    = zap.NewNop()
	// accept every 3rd report on average, at most one every 500ms
	accepted = newLimiter(3, 500*time.Millisecond)
)

func init() {
	rollbar.SetToken(os.Getenv("SLACKGRAB_ROLLBAR_TOKEN"))
	env := os.Getenv("SLACKGRAB_ROLLBAR_ENV")
	if env == "" {
		env = "development"
	}
	rollbar.SetEnvironment(env)
}

// SetLogger sets the logger that receives a copy of every report.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	logger = l.Named("rollbar")
}

// SetCodeVersion tags reports with the running model or binary version.
func SetCodeVersion(version string) {
	rollbar.SetCodeVersion(version)
}

// Disable turns reporting off.
func Disable() {
	rollbar.SetToken("")
	rollbar.SetEnabled(false)
}

// WithPanic makes every subsequent report panic, so tests fail loudly on
// unexpected errors. Use as: defer rollbar.WithPanic(t)()
func WithPanic(testing.TB) func() {
	mu.Lock()
	withPanic = true
	mu.Unlock()
	return func() {
		mu.Lock()
		withPanic = false
		mu.Unlock()
	}
}

// Wait blocks until queued reports have been sent.
func Wait() {
	rollbar.Wait()
}

// Error reports err with optional extra data.
func Error(err error, data ...interface{}) {
	send(rollbar.ERR, err, data...)
}

// Warning reports err at warning level.
func Warning(err error, data ...interface{}) {
	send(rollbar.WARN, err, data...)
}

// PanicRecovery reports a value recovered from a panic along with the stack.
func PanicRecovery(r interface{}, data ...interface{}) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, false)
	current().Error("recovered panic", zap.Any("panic", r), zap.ByteString("stack", buf[:n]))
	send(rollbar.ERR, errors.Errorf("panic: %v", r), data...)
}

// --

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func send(level string, err error, data ...interface{}) {
	mu.RLock()
	shouldPanic := withPanic
	mu.RUnlock()
	if shouldPanic {
		panic(fmt.Sprintf("rollbar [%s]: %v %v", level, err, data))
	}

	current().Warn("report", zap.String("level", level), zap.Error(err), zap.Any("data", data))
	if rollbar.Token() == "" {
		return
	}
	if !accepted() {
		return
	}

	extras := make(map[string]interface{}, len(data))
	for idx, d := range data {
		extras[fmt.Sprintf("data%d", idx)] = d
	}
	// skip send and the exported wrapper
	rollbar.ErrorWithStackSkipWithExtras(level, err, 2, extras)
}
