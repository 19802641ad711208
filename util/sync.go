// util/sync.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"log/slog"
	gomath "math"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tcengine/tcengine/log"

	"github.com/shirou/gopsutil/cpu"
)

// DebuggerIsRunning returns true if we are running under dlv; lock and
// tick duration warnings are suppressed in that case.
func DebuggerIsRunning() bool {
	dlv, ok := os.LookupEnv("_")
	return ok && strings.HasSuffix(dlv, "/dlv")
}

///////////////////////////////////////////////////////////////////////////
// LoggingMutex

// LockTimeout is how long LoggingMutex.Lock waits before logging the
// process state; it keeps waiting afterward.
var LockTimeout = 5 * time.Second

// LoggingMutex is a sync.Mutex that records where it was acquired and
// logs when it is contended or held for too long. The engine uses one
// to guard its published snapshot against the status server and the
// recorder.
type LoggingMutex struct {
	mu       sync.Mutex
	name     string
	acq      time.Time
	acqStack []log.StackFrame
}

func NewLoggingMutex(name string) *LoggingMutex {
	return &LoggingMutex{name: name}
}

func (l *LoggingMutex) Lock(lg *log.Logger) {
	tryTime := time.Now()

	if !l.mu.TryLock() {
		locked := make(chan struct{})
		go func() {
			l.mu.Lock()
			close(locked)
		}()

		select {
		case <-locked:
		case <-time.After(LockTimeout):
			if !DebuggerIsRunning() {
				logProcessState(lg, "unable to acquire mutex", slog.Any("mutex", l))
			}
			<-locked
		}
	}

	l.acq = time.Now()
	l.acqStack = log.Callstack(l.acqStack)
	if w := l.acq.Sub(tryTime); w > time.Second {
		lg.Warn("long wait to acquire mutex", slog.Any("mutex", l), slog.Duration("wait", w))
	}
}

func (l *LoggingMutex) Unlock(lg *log.Logger) {
	if l.acq.IsZero() {
		lg.Error("unlock of unlocked mutex", slog.String("name", l.name))
		return
	}
	if d := time.Since(l.acq); d > time.Second && !DebuggerIsRunning() {
		lg.Warn("mutex held for over 1 second", slog.Any("mutex", l), slog.Duration("held", d))
	}

	l.acq = time.Time{}
	l.acqStack = l.acqStack[:0]
	l.mu.Unlock()
}

func (l *LoggingMutex) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("name", l.name)}
	if !l.acq.IsZero() {
		attrs = append(attrs, slog.Duration("held", time.Since(l.acq)), slog.Any("acq_stack", l.acqStack))
	}
	return slog.GroupValue(attrs...)
}

func logProcessState(lg *log.Logger, msg string, args ...any) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	cpuPct := -1
	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		cpuPct = int(gomath.Round(usage[0]))
	}

	args = append(args,
		slog.Int("cpu_percent", cpuPct),
		slog.Uint64("alloc_mb", m.Alloc/(1024*1024)),
		slog.Uint64("sys_mb", m.Sys/(1024*1024)),
		slog.Int("goroutines", runtime.NumGoroutine()))
	lg.Error(msg, args...)
}
