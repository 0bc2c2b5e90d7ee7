package autolock

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the inactivity window before the wallet locks.
	DefaultLimit = 10 * time.Minute

	// tickInterval is how often the inactivity check runs.
	tickInterval = time.Minute
)

// Locker clears in-memory key material after a period of inactivity. A
// one-minute ticker compares the time since the last recorded activity
// against the limit and fires the lock callback once when it is exceeded.
type Locker struct {
	mu sync.Mutex

	enabled      bool
	limit        time.Duration
	lastActivity time.Time
	fired        bool
	paused       bool

	onLock func()

	ticker *time.Ticker
	quit   chan struct{}

	now func() time.Time
}

// New creates a locker that invokes onLock when the inactivity limit is
// exceeded. A zero limit applies the default. Cleanup must be called when
// the wallet shuts down.
func New(onLock func(), limit time.Duration) *Locker {
	if limit <= 0 {
		limit = DefaultLimit
	}

	l := &Locker{
		enabled: true,
		limit:   limit,
		onLock:  onLock,
		quit:    make(chan struct{}),
		now:     time.Now,
	}
	l.lastActivity = l.now()

	l.ticker = time.NewTicker(tickInterval)
	go l.run()

	log.Debugf("Auto-lock armed with a %v limit", limit)
	return l
}

func (l *Locker) run() {
	for {
		select {
		case <-l.ticker.C:
			l.tick()
		case <-l.quit:
			return
		}
	}
}

// tick fires the callback when the inactivity window has passed. It is
// split out so tests can drive it directly.
func (l *Locker) tick() {
	l.mu.Lock()
	fire := l.enabled && !l.paused && !l.fired &&
		l.now().Sub(l.lastActivity) >= l.limit
	if fire {
		l.fired = true
	}
	onLock := l.onLock
	l.mu.Unlock()

	if fire && onLock != nil {
		log.Infof("Inactivity limit reached, locking wallet")
		onLock()
	}
}

// Touch records activity, restarting the inactivity window.
func (l *Locker) Touch() {
	l.mu.Lock()
	l.lastActivity = l.now()
	l.fired = false
	l.mu.Unlock()
}

// Pause suspends the inactivity check without altering the limit.
func (l *Locker) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// Resume re-arms the check after a pause. The window restarts from now so
// time spent paused does not count as inactivity.
func (l *Locker) Resume() {
	l.mu.Lock()
	l.paused = false
	l.lastActivity = l.now()
	l.fired = false
	l.mu.Unlock()
}

// SetEnabled toggles the locker entirely.
func (l *Locker) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	if enabled {
		l.lastActivity = l.now()
		l.fired = false
	}
	l.mu.Unlock()
}

// Cleanup stops the ticker. The locker cannot be reused afterwards.
func (l *Locker) Cleanup() {
	l.ticker.Stop()
	close(l.quit)
}
