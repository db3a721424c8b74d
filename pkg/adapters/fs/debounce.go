package fs

import (
	"sync"
	"time"

	"github.com/aretw0/devbundle/pkg/core"
)

// debouncer collapses bursts of events per key into the last one seen,
// delivered once the key has been quiet for delay.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timers  map[string]*time.Timer
	pending map[string]core.Event
	wg      sync.WaitGroup
	stopped bool
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]core.Event),
	}
}

func (d *debouncer) add(key string, e core.Event, fire func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[key] = e

	if t, ok := d.timers[key]; ok && t.Stop() {
		t.Reset(d.delay)
		return
	}

	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()

		d.mu.Lock()
		if d.timers[key] != t {
			// Superseded by a newer timer for the same key.
			d.mu.Unlock()
			return
		}
		ev := d.pending[key]
		delete(d.pending, key)
		delete(d.timers, key)
		d.mu.Unlock()

		fire(ev)
	})
	d.timers[key] = t
}

// stopAndWait drops pending events and waits for callbacks already running.
func (d *debouncer) stopAndWait(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	clear(d.pending)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
