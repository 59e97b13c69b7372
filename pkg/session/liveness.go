package session

import (
	"sync"
	"time"
)

// liveness pings the peer every interval and fires onTimeout once nothing
// has been received for window. The deadline is tracked with its own timer
// so the timeout never fires before the window has fully elapsed.
type liveness struct {
	interval time.Duration
	window   time.Duration

	// Callbacks
	sendPing     func() error
	lastReceived func() time.Time
	onTimeout    func()

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newLiveness(interval, window time.Duration, sendPing func() error, lastReceived func() time.Time, onTimeout func()) *liveness {
	return &liveness{
		interval:     interval,
		window:       window,
		sendPing:     sendPing,
		lastReceived: lastReceived,
		onTimeout:    onTimeout,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (l *liveness) start() {
	go l.loop()
}

// stop ends the loop. Safe to call more than once and from onTimeout.
func (l *liveness) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *liveness) loop() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	deadline := time.NewTimer(l.untilDeadline(time.Now()))
	defer deadline.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			// A failed ping means the session is already going down.
			_ = l.sendPing()
		case now := <-deadline.C:
			remaining := l.untilDeadline(now)
			if remaining <= 0 {
				l.onTimeout()
				return
			}
			deadline.Reset(remaining)
		}
	}
}

// untilDeadline returns how long until the window since the last received
// traffic elapses.
func (l *liveness) untilDeadline(now time.Time) time.Duration {
	return l.lastReceived().Add(l.window).Sub(now)
}
