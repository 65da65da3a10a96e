package graph

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graphstore/api/schemas"
)

// LockMode tells a read hold from a write hold.
type LockMode string

const (
	ModeRead  LockMode = "read"
	ModeWrite LockMode = "write"
)

// Holder describes one active hold of a TrackedLock.
type Holder struct {
	GoroutineID uint64
	Mode        LockMode
	Since       time.Time
	Stack       string
}

// TrackedLock decorates a lock with a record of who holds it. It is meant for
// diagnosing stuck writers and is not needed for correctness.
type TrackedLock struct {
	inner  schemas.RWLocker
	logger *zap.Logger

	mu      sync.Mutex
	holders []Holder
}

var _ schemas.RWLocker = (*TrackedLock)(nil)

// NewTrackedLock wraps inner. A nil inner gets a fresh RWLock.
func NewTrackedLock(inner schemas.RWLocker, logger *zap.Logger) *TrackedLock {
	if inner == nil {
		inner = NewRWLock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackedLock{inner: inner, logger: logger.Named("tracked_lock")}
}

func (l *TrackedLock) RLock(ctx context.Context) error {
	if err := l.inner.RLock(ctx); err != nil {
		return err
	}
	l.record(ModeRead)
	return nil
}

func (l *TrackedLock) RUnlock() {
	l.forget(ModeRead)
	l.inner.RUnlock()
}

func (l *TrackedLock) Lock(ctx context.Context) error {
	start := time.Now()
	if err := l.inner.Lock(ctx); err != nil {
		l.logger.Warn("Write lock wait abandoned",
			zap.Duration("waited", time.Since(start)),
			zap.Any("holders", l.Holders()),
			zap.Error(err))
		return err
	}
	l.record(ModeWrite)
	return nil
}

func (l *TrackedLock) Unlock() {
	l.forget(ModeWrite)
	l.inner.Unlock()
}

// Holders returns a copy of the current holds, oldest first.
func (l *TrackedLock) Holders() []Holder {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Holder, len(l.holders))
	copy(out, l.holders)
	return out
}

func (l *TrackedLock) record(mode LockMode) {
	buf := make([]byte, 4096)
	buf = buf[:runtime.Stack(buf, false)]
	h := Holder{
		GoroutineID: parseGoroutineID(buf),
		Mode:        mode,
		Since:       time.Now(),
		Stack:       string(buf),
	}

	l.mu.Lock()
	l.holders = append(l.holders, h)
	l.mu.Unlock()
	l.logger.Debug("Lock acquired", zap.String("mode", string(mode)), zap.Uint64("goroutine", h.GoroutineID))
}

// forget drops the newest hold of mode owned by the calling goroutine, or the
// oldest hold of mode if the unlock happens on another goroutine.
func (l *TrackedLock) forget(mode LockMode) {
	buf := make([]byte, 64)
	gid := parseGoroutineID(buf[:runtime.Stack(buf, false)])

	l.mu.Lock()
	defer l.mu.Unlock()
	idx := -1
	for i := len(l.holders) - 1; i >= 0; i-- {
		if l.holders[i].Mode != mode {
			continue
		}
		if l.holders[i].GoroutineID == gid {
			idx = i
			break
		}
		idx = i
	}
	if idx < 0 {
		return
	}
	l.holders = append(l.holders[:idx], l.holders[idx+1:]...)
}

// parseGoroutineID reads the id from the "goroutine N [" header of a stack dump.
func parseGoroutineID(stack []byte) uint64 {
	stack = bytes.TrimPrefix(stack, []byte("goroutine "))
	if i := bytes.IndexByte(stack, ' '); i > 0 {
		stack = stack[:i]
	}
	id, _ := strconv.ParseUint(string(stack), 10, 64)
	return id
}
