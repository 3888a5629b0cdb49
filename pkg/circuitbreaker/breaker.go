// Package circuitbreaker guards calls to a remote dependency. After a run of
// failures the breaker opens and rejects calls without trying them, then lets
// a few probes through to decide whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeLimit rejects calls beyond the probe budget while half-open.
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

type Settings struct {
	// TripAfter consecutive failures open a closed breaker.
	TripAfter uint32
	// CloseAfter consecutive probe successes close a half-open breaker.
	CloseAfter uint32
	// Probes caps concurrent calls while half-open.
	Probes uint32
	// OpenFor is how long the breaker rejects calls before probing.
	OpenFor time.Duration
	// Window resets the closed-state tallies periodically; zero never resets.
	Window time.Duration

	// IsFailure decides which errors count against the dependency. The
	// default counts every error except a cancelled caller.
	IsFailure    func(err error) bool
	OnTransition func(name string, from, to State)
	Logger       *zap.Logger
	Now          func() time.Time
}

type Tally struct {
	Calls         uint32
	Successes     uint32
	Failures      uint32
	SuccessStreak uint32
	FailureStreak uint32
}

type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	epoch    uint64
	tally    Tally
	deadline time.Time
}

func New(name string, s Settings) *Breaker {
	if s.TripAfter == 0 {
		s.TripAfter = 5
	}
	if s.CloseAfter == 0 {
		s.CloseAfter = 2
	}
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.OpenFor <= 0 {
		s.OpenFor = time.Minute
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	b := &Breaker{name: name, settings: s}
	b.resetEpoch(s.Now())
	return b
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	failed := true
	defer func() {
		b.record(epoch, !failed)
	}()

	err = fn()
	failed = err != nil && b.countsAsFailure(ctx, err)
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) countsAsFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return false
	}
	if b.settings.IsFailure != nil {
		return b.settings.IsFailure(err)
	}
	return true
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.refresh(b.settings.Now()) {
	case StateOpen:
		return b.epoch, ErrOpen
	case StateHalfOpen:
		if b.tally.Calls >= b.settings.Probes {
			return b.epoch, ErrProbeLimit
		}
	}
	b.tally.Calls++
	return b.epoch, nil
}

// record drops outcomes of calls admitted in an earlier epoch.
func (b *Breaker) record(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Now()
	state := b.refresh(now)
	if epoch != b.epoch {
		return
	}

	if ok {
		b.tally.Successes++
		b.tally.SuccessStreak++
		b.tally.FailureStreak = 0
		if state == StateHalfOpen && b.tally.SuccessStreak >= b.settings.CloseAfter {
			b.transition(StateClosed, now)
		}
		return
	}

	b.tally.Failures++
	b.tally.FailureStreak++
	b.tally.SuccessStreak = 0
	switch {
	case state == StateHalfOpen:
		b.transition(StateOpen, now)
	case state == StateClosed && b.tally.FailureStreak >= b.settings.TripAfter:
		b.transition(StateOpen, now)
	}
}

// refresh applies time-based transitions and returns the current state.
func (b *Breaker) refresh(now time.Time) State {
	if b.deadline.IsZero() || now.Before(b.deadline) {
		return b.state
	}
	switch b.state {
	case StateClosed:
		b.resetEpoch(now)
	case StateOpen:
		b.transition(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.resetEpoch(now)

	b.settings.Logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if b.settings.OnTransition != nil {
		b.settings.OnTransition(b.name, from, to)
	}
}

func (b *Breaker) resetEpoch(now time.Time) {
	b.epoch++
	b.tally = Tally{}
	b.deadline = time.Time{}
	switch b.state {
	case StateClosed:
		if b.settings.Window > 0 {
			b.deadline = now.Add(b.settings.Window)
		}
	case StateOpen:
		b.deadline = now.Add(b.settings.OpenFor)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh(b.settings.Now())
}

func (b *Breaker) Name() string { return b.name }

// Tally returns the counts of the current epoch.
func (b *Breaker) Tally() Tally {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tally
}
