package redial

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/capmux/capmux-go/pkg/peer"
)

// ErrKeeperClosed is returned by Start after Close.
var ErrKeeperClosed = errors.New("redial keeper closed")

// State is the state of one static target.
type State uint8

const (
	// StateIdle means the loop has not run yet.
	StateIdle State = iota

	// StateDialing means an attempt is in progress.
	StateDialing

	// StateConnected means a session to the target is up.
	StateConnected

	// StateWaiting means the loop is sleeping before the next attempt.
	StateWaiting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDialing:
		return "DIALING"
	case StateConnected:
		return "CONNECTED"
	case StateWaiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// DialFunc connects to ep. On success it returns a channel that is closed
// when the resulting session ends.
type DialFunc func(ctx context.Context, ep peer.Endpoint) (<-chan struct{}, error)

// Option configures a Keeper.
type Option func(*Keeper)

// WithBackoff sets the backoff used by every target.
func WithBackoff(cfg BackoffConfig) Option {
	return func(k *Keeper) { k.backoff = cfg }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(k *Keeper) { k.logger = l }
}

// WithStateHook registers a callback for target state changes. It runs on
// the target's loop goroutine.
func WithStateHook(fn func(ep peer.Endpoint, from, to State)) Option {
	return func(k *Keeper) { k.onStateChange = fn }
}

type target struct {
	ep      peer.Endpoint
	backoff *Backoff
	state   State
	cancel  context.CancelFunc
}

// Keeper maintains one redial loop per static endpoint.
type Keeper struct {
	dial          DialFunc
	backoff       BackoffConfig
	logger        zerolog.Logger
	onStateChange func(ep peer.Endpoint, from, to State)

	mu      sync.Mutex
	targets map[string]*target
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewKeeper creates a keeper that connects with dial.
func NewKeeper(dial DialFunc, opts ...Option) *Keeper {
	k := &Keeper{
		dial:    dial,
		logger:  zerolog.Nop(),
		targets: make(map[string]*target),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Start launches the loops of all added targets. Targets added later start
// immediately. The loops stop when ctx ends or Close is called.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrKeeperClosed
	}
	if k.ctx != nil {
		return nil
	}
	k.ctx, k.cancel = context.WithCancel(ctx)
	for _, t := range k.targets {
		k.launchLocked(t)
	}
	return nil
}

// Add registers a static endpoint. It returns false if it is already known.
func (k *Keeper) Add(ep peer.Endpoint) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := ep.String()
	if _, ok := k.targets[key]; ok || k.closed {
		return false
	}
	t := &target{ep: ep, backoff: NewBackoff(k.backoff)}
	k.targets[key] = t
	if k.ctx != nil {
		k.launchLocked(t)
	}
	return true
}

// Remove stops redialing ep. A session that is already up is left alone.
func (k *Keeper) Remove(ep peer.Endpoint) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := ep.String()
	t, ok := k.targets[key]
	if !ok {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	delete(k.targets, key)
	return true
}

// State returns the state of ep.
func (k *Keeper) State(ep peer.Endpoint) (State, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.targets[ep.String()]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// Targets returns the registered endpoints.
func (k *Keeper) Targets() []peer.Endpoint {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]peer.Endpoint, 0, len(k.targets))
	for _, t := range k.targets {
		out = append(out, t.ep)
	}
	return out
}

// Close stops all loops and waits for them to return.
func (k *Keeper) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	if k.cancel != nil {
		k.cancel()
	}
	k.mu.Unlock()

	k.wg.Wait()
}

func (k *Keeper) launchLocked(t *target) {
	ctx, cancel := context.WithCancel(k.ctx)
	t.cancel = cancel
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer cancel()
		k.loop(ctx, t)
	}()
}

func (k *Keeper) setState(t *target, s State) {
	k.mu.Lock()
	old := t.state
	t.state = s
	k.mu.Unlock()

	if old != s && k.onStateChange != nil {
		k.onStateChange(t.ep, old, s)
	}
}

// loop dials t until ctx ends.
func (k *Keeper) loop(ctx context.Context, t *target) {
	log := k.logger.With().Str("endpoint", t.ep.String()).Logger()

	for {
		k.setState(t, StateDialing)
		done, err := k.dial(ctx, t.ep)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			t.backoff.Reset()
			k.setState(t, StateConnected)
			log.Debug().Msg("static node connected")

			select {
			case <-ctx.Done():
				return
			case <-done:
			}
			log.Debug().Msg("static node session ended")
		}

		delay := t.backoff.Next()
		k.setState(t, StateWaiting)
		ev := log.Debug()
		if err != nil {
			ev = log.Info().Err(err)
		}
		ev.Int("attempt", t.backoff.Attempts()).Dur("delay", delay).Msg("redialing static node")

		if !sleep(ctx, delay) {
			return
		}
	}
}
