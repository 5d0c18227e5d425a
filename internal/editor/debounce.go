package editor

import (
	"sync"
	"time"
)

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so debounce and highlight windows can be driven by
// tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type pendingValue struct {
	value string
	gen   uint64
	timer Timer
}

// Debouncer holds at most one pending value per key. Scheduling a key again
// replaces its value and restarts its delay; the fire callback only ever sees
// the last value scheduled.
type Debouncer struct {
	mu      sync.Mutex
	clock   Clock
	delay   time.Duration
	fire    func(key, value string)
	gen     uint64
	pending map[string]*pendingValue
}

func NewDebouncer(clock Clock, delay time.Duration, fire func(key, value string)) *Debouncer {
	if clock == nil {
		clock = SystemClock
	}
	return &Debouncer{
		clock:   clock,
		delay:   delay,
		fire:    fire,
		pending: make(map[string]*pendingValue),
	}
}

func (d *Debouncer) Schedule(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}
	d.gen++
	gen := d.gen
	p := &pendingValue{value: value, gen: gen}
	d.pending[key] = p
	p.timer = d.clock.AfterFunc(d.delay, func() { d.expire(key, gen) })
}

func (d *Debouncer) expire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	d.fire(key, p.value)
}

// Flush cancels the pending timer for key and hands back its value so the
// caller can save synchronously.
func (d *Debouncer) Flush(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return "", false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return p.value, true
}

// FlushAll drains every pending value.
func (d *Debouncer) FlushAll() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]string, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		out[key] = p.value
	}
	d.pending = make(map[string]*pendingValue)
	return out
}

func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}
