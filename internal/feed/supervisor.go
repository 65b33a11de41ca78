// Package feed keeps the order-book and index price streams alive. Each
// stream runs under a Supervisor that reconnects forever with a fixed delay,
// and each has a pull poller that fills in while the push side is quiet.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrResubscribe is returned by a session that ended because its
// subscription set changed. The supervisor reconnects immediately.
var ErrResubscribe = errors.New("feed: resubscribe")

// State is the lifecycle state of a supervised session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateBackingOff State = "backing_off"
)

// Status is a point-in-time view of a Supervisor.
type Status struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	Attempt       int        `json:"attempt"`
	LastError     string     `json:"lastError,omitempty"`
	ConnectedAt   *time.Time `json:"connectedAt,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// SessionFunc runs one connection until it fails or ctx ends. It calls
// connected once the upstream subscription is live.
type SessionFunc func(ctx context.Context, connected func()) error

// Supervisor restarts a SessionFunc until its context is cancelled.
type Supervisor struct {
	name    string
	delay   time.Duration
	session SessionFunc
	logger  *slog.Logger
	now     func() time.Time

	mu sync.RWMutex
	st Status
}

// NewSupervisor creates a Supervisor that waits delay between failed
// sessions.
func NewSupervisor(name string, delay time.Duration, session SessionFunc, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		name:    name,
		delay:   delay,
		session: session,
		logger:  logger.With(slog.String("component", "feed"), slog.String("feed", name)),
		now:     time.Now,
		st:      Status{Name: name, State: StateIdle},
	}
}

// Run loops connect -> session -> back off until ctx ends. Session errors
// are logged, never returned. It returns nil once ctx is cancelled. Each
// Run starts from a fresh status.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.st = Status{Name: s.name, State: StateConnecting}
	s.mu.Unlock()
	defer s.setState(StateIdle)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateConnecting)

		err := s.session(ctx, s.markConnected)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrResubscribe) {
			s.logger.Debug("resubscribing")
			continue
		}

		attempt := s.markFailed(err)
		attrs := []any{slog.Int("attempt", attempt), slog.Duration("retry_in", s.delay)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Warn("feed session ended, reconnecting", attrs...)

		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Touch records the arrival of a pushed message.
func (s *Supervisor) Touch() {
	now := s.now()
	s.mu.Lock()
	s.st.LastMessageAt = &now
	s.mu.Unlock()
}

// Connected reports whether the session is currently live.
func (s *Supervisor) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.State == StateConnected
}

// Status returns a copy of the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.st
	if st.ConnectedAt != nil {
		t := *st.ConnectedAt
		st.ConnectedAt = &t
	}
	if st.LastMessageAt != nil {
		t := *st.LastMessageAt
		st.LastMessageAt = &t
	}
	return st
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.st.State = state
	s.mu.Unlock()
}

func (s *Supervisor) markConnected() {
	now := s.now()
	s.mu.Lock()
	s.st.State = StateConnected
	s.st.Attempt = 0
	s.st.LastError = ""
	s.st.ConnectedAt = &now
	s.mu.Unlock()
	s.logger.Info("feed connected")
}

func (s *Supervisor) markFailed(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.State = StateBackingOff
	s.st.Attempt++
	if err != nil {
		s.st.LastError = err.Error()
	}
	return s.st.Attempt
}
