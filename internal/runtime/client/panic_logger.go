package clientruntime

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// PanicLogger captures panic stack traces, logs them and optionally appends
// them to a file before exiting.
type PanicLogger struct {
	path   string
	logger pslog.Logger
	exit   func(code int)
	mu     sync.Mutex
}

// NewPanicLogger constructs a panic logger that writes to path if non-empty.
func NewPanicLogger(path string, logger pslog.Logger) *PanicLogger {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &PanicLogger{path: path, logger: logger, exit: os.Exit}
}

// Recover should be deferred in goroutines to capture panics.
func (p *PanicLogger) Recover(where string) {
	if r := recover(); r != nil {
		p.logPanic(where, r)
		p.exit(2)
	}
}

// Go starts fn in a goroutine with panic recovery labelled where.
func (p *PanicLogger) Go(where string, fn func()) {
	go func() {
		defer p.Recover(where)
		fn()
	}()
}

func (p *PanicLogger) logPanic(where string, r any) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	stack := buf[:n]
	p.logger.Error("panic", "where", where, "panic", fmt.Sprint(r), "stack", string(stack))
	fmt.Fprintf(os.Stderr, "panic in %s: %v\n%s\n", where, r, stack)
	if p.path == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		p.logger.Error("panic log unwritable", "path", p.path, "err", err)
		return
	}
	defer f.Close()
	ts := time.Now().Format(time.RFC3339Nano)
	fmt.Fprintf(f, "[%s] panic in %s: %v\n%s\n", ts, where, r, stack)
}
