// Package timer tracks the single time-tracking session that may run across
// the whole client portfolio.
//
// The registry is either Idle or Running(client). Starting a session for a
// different client stops and credits the running one first, under the same
// lock, so callers never observe zero or two sessions mid-switch.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/retainer/id"
)

// ErrNoActiveSession is returned by Stop when the client does not hold the
// running session.
var ErrNoActiveSession = errors.New("retainer: no active timer session")

// Session is the running timer.
type Session struct {
	ID         id.SessionID `json:"id"`
	ClientID   string       `json:"client_id"`
	EmployeeID string       `json:"employee_id,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
}

// Elapsed returns the time since the session started. Clock skew never
// produces a negative duration.
func (s Session) Elapsed(at time.Time) time.Duration {
	d := at.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Minutes returns the whole minutes elapsed at at, rounded down.
func (s Session) Minutes(at time.Time) int64 {
	return int64(s.Elapsed(at) / time.Minute)
}

// Stopped describes a session that was closed and credited.
type Stopped struct {
	Session
	StoppedAt time.Time `json:"stopped_at"`
	Minutes   int64     `json:"minutes"`
}

// Crediter receives the minutes of a stopped session.
type Crediter interface {
	CreditMinutes(ctx context.Context, s Session, stoppedAt time.Time, minutes int64) error
}

// CrediterFunc adapts a function to Crediter.
type CrediterFunc func(ctx context.Context, s Session, stoppedAt time.Time, minutes int64) error

// CreditMinutes calls f.
func (f CrediterFunc) CreditMinutes(ctx context.Context, s Session, stoppedAt time.Time, minutes int64) error {
	return f(ctx, s, stoppedAt, minutes)
}

// Registry holds at most one running Session. Start and Stop are the only
// mutators and are serialized by one mutex.
type Registry struct {
	mu     sync.Mutex
	active *Session
	credit Crediter
}

// NewRegistry returns an idle registry that credits stopped sessions to c.
func NewRegistry(c Crediter) *Registry {
	return &Registry{credit: c}
}

// Result describes what Start changed.
type Result struct {
	// Session is the running session after Start.
	Session Session
	// Previous is the session of another client that was stopped and
	// credited to make room, if any.
	Previous *Stopped
	// Noop is set when clientID already held the session.
	Noop bool
}

// Start opens a session for clientID at at.
//
// If clientID already holds the session Start changes nothing. If another
// client holds it, that session is stopped and credited first. When
// crediting fails the previous session stays active and no new session is
// opened.
func (r *Registry) Start(ctx context.Context, clientID, employeeID string, at time.Time) (Result, error) {
	if clientID == "" {
		return Result{}, errors.New("timer: client id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.ClientID == clientID {
		return Result{Session: *r.active, Noop: true}, nil
	}

	var res Result
	if r.active != nil {
		prev := r.active.ClientID
		stopped, err := r.stopLocked(ctx, at)
		if err != nil {
			return Result{}, fmt.Errorf("timer: stop %s before starting %s: %w", prev, clientID, err)
		}
		res.Previous = stopped
	}

	r.active = &Session{
		ID:         id.NewSessionID(),
		ClientID:   clientID,
		EmployeeID: employeeID,
		StartedAt:  at,
	}
	res.Session = *r.active
	return res, nil
}

// Stop closes the session held by clientID and credits its whole minutes.
func (r *Registry) Stop(ctx context.Context, clientID string, at time.Time) (*Stopped, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || r.active.ClientID != clientID {
		return nil, fmt.Errorf("%w: client %s", ErrNoActiveSession, clientID)
	}
	return r.stopLocked(ctx, at)
}

func (r *Registry) stopLocked(ctx context.Context, at time.Time) (*Stopped, error) {
	s := *r.active
	minutes := s.Minutes(at)
	if err := r.credit.CreditMinutes(ctx, s, at, minutes); err != nil {
		return nil, err
	}
	r.active = nil
	return &Stopped{Session: s, StoppedAt: at, Minutes: minutes}, nil
}

// Active returns a copy of the running session.
func (r *Registry) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Session{}, false
	}
	return *r.active, true
}

// Elapsed returns how long the running session has been going at at, or
// zero when idle.
func (r *Registry) Elapsed(at time.Time) time.Duration {
	s, ok := r.Active()
	if !ok {
		return 0
	}
	return s.Elapsed(at)
}
