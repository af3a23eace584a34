package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Watchdog tracks the last time each task looped.
type Watchdog struct {
	mu    sync.RWMutex
	tasks map[string]*atomic.Int64
	now   func() time.Time
}

// NewWatchdog returns a watchdog expecting the named tasks.
func NewWatchdog(tasks ...string) *Watchdog {
	w := &Watchdog{tasks: make(map[string]*atomic.Int64, len(tasks)), now: time.Now}
	for _, t := range tasks {
		w.tasks[t] = new(atomic.Int64)
	}
	return w
}

// Feed records a loop iteration of task. Unknown tasks are registered on first feed.
func (w *Watchdog) Feed(task string) {
	w.mu.RLock()
	ts, ok := w.tasks[task]
	w.mu.RUnlock()
	if !ok {
		w.mu.Lock()
		if ts, ok = w.tasks[task]; !ok {
			ts = new(atomic.Int64)
			w.tasks[task] = ts
		}
		w.mu.Unlock()
	}
	ts.Store(w.now().UnixNano())
}

// Healthy reports whether every task was fed within maxAge.
func (w *Watchdog) Healthy(maxAge time.Duration) bool {
	now := w.now().UnixNano()
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ts := range w.tasks {
		last := ts.Load()
		if last == 0 || time.Duration(now-last) > maxAge {
			return false
		}
	}
	return true
}
