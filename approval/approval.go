// Package approval holds tool calls that policy blocked until a human
// approves them with a one-time code.
//
// The Store is the only owner of PendingAction records. Callers receive
// copies and drive the lifecycle through Create, Attempt, Sweep and
// CancelAll. Every record leaves the store on its first terminal
// transition; expiry and lockout cannot be undone.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// CodeLength is the number of digits in an approval code.
const CodeLength = 4

// maxCodeTries bounds collision retries when generating a code.
const maxCodeTries = 100

var (
	// ErrCodeSpaceExhausted means no free code was found, which only
	// happens with thousands of actions pending at once.
	ErrCodeSpaceExhausted = errors.New("approval: no free approval code")
	// ErrInvalidTool is returned by Create for an empty tool name.
	ErrInvalidTool = errors.New("approval: tool name is required")
)

// Status is the lifecycle state of a PendingAction.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusExpired
	StatusLockedOut
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusExpired:
		return "EXPIRED"
	case StatusLockedOut:
		return "LOCKED_OUT"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// PendingAction is a blocked tool call waiting for approval. ToolName and
// Arguments are captured when the call is blocked and never change.
type PendingAction struct {
	ID                string
	Code              string
	ToolName          string
	Arguments         json.RawMessage
	OriginID          json.RawMessage
	IssuedAt          time.Time
	ExpiresAt         time.Time
	AttemptsRemaining int
	Status            Status
}

func (a *PendingAction) clone() PendingAction {
	c := *a
	c.Arguments = append(json.RawMessage(nil), a.Arguments...)
	c.OriginID = append(json.RawMessage(nil), a.OriginID...)
	return c
}

// OutcomeKind classifies the result of an Attempt.
type OutcomeKind int

const (
	// Confirmed: the code matched a live action; Action holds it for replay.
	Confirmed OutcomeKind = iota
	// WrongCodeRetry: the code matched nothing; AttemptsLeft more tries remain.
	WrongCodeRetry
	// LockedOut: the wrong code used up the last attempt of a pending action.
	LockedOut
	// NotFound: no pending action could be associated with the code.
	NotFound
	// Expired: the code matched an action whose TTL had passed.
	Expired
)

func (k OutcomeKind) String() string {
	switch k {
	case Confirmed:
		return "CONFIRMED"
	case WrongCodeRetry:
		return "WRONG_CODE_RETRY"
	case LockedOut:
		return "LOCKED_OUT"
	case NotFound:
		return "NOT_FOUND"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of an Attempt.
type Outcome struct {
	Kind OutcomeKind
	// Action is set for Confirmed and Expired.
	Action *PendingAction
	// AttemptsLeft is set for WrongCodeRetry.
	AttemptsLeft int
}

// Store is a concurrency-safe set of pending actions keyed by code.
type Store struct {
	mu      sync.Mutex
	pending map[string]*PendingAction
	// retired remembers recently expired or locked-out codes so a late
	// submission gets a precise answer instead of counting as a guess.
	retired map[string]retiredCode
	now     func() time.Time
	newCode func() (string, error)
}

type retiredCode struct {
	status Status
	until  time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCodeSource replaces the random code generator, for tests.
func WithCodeSource(gen func() (string, error)) Option {
	return func(s *Store) { s.newCode = gen }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		pending: make(map[string]*PendingAction),
		retired: make(map[string]retiredCode),
		now:     time.Now,
		newCode: randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomCode draws a uniformly distributed code from crypto/rand.
func randomCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("approval: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// Create stores a new pending action for a blocked call and returns a
// copy of it. The code is unique among pending actions.
func (s *Store) Create(toolName string, arguments, originID json.RawMessage, ttl time.Duration, maxAttempts int) (PendingAction, error) {
	if toolName == "" {
		return PendingAction{}, ErrInvalidTool
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	code, err := s.uniqueCodeLocked()
	if err != nil {
		return PendingAction{}, err
	}
	action := &PendingAction{
		ID:                ulid.Make().String(),
		Code:              code,
		ToolName:          toolName,
		Arguments:         append(json.RawMessage(nil), arguments...),
		OriginID:          append(json.RawMessage(nil), originID...),
		IssuedAt:          now,
		ExpiresAt:         now.Add(ttl),
		AttemptsRemaining: maxAttempts,
		Status:            StatusPending,
	}
	delete(s.retired, code)
	s.pending[code] = action
	return action.clone(), nil
}

// uniqueCodeLocked retries generation until the code is free. Caller must
// hold s.mu.
func (s *Store) uniqueCodeLocked() (string, error) {
	for i := 0; i < maxCodeTries; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		if _, taken := s.pending[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Attempt resolves a submitted code.
//
// A code naming a live action confirms and removes it without consuming
// an attempt. A code naming an overdue action expires it. A well-formed
// code naming nothing counts as a wrong guess against every pending
// action, since a guess cannot be tied to one of them; actions that run
// out of attempts are locked out.
func (s *Store) Attempt(code string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if action, ok := s.pending[code]; ok {
		if !now.Before(action.ExpiresAt) {
			s.retireLocked(action, StatusExpired)
			c := action.clone()
			return Outcome{Kind: Expired, Action: &c}
		}
		delete(s.pending, code)
		action.Status = StatusConfirmed
		c := action.clone()
		s.sweepLocked(now)
		return Outcome{Kind: Confirmed, Action: &c}
	}

	s.sweepLocked(now)
	if r, ok := s.retired[code]; ok {
		if r.status == StatusLockedOut {
			return Outcome{Kind: LockedOut}
		}
		return Outcome{Kind: Expired}
	}
	if !wellFormed(code) || len(s.pending) == 0 {
		return Outcome{Kind: NotFound}
	}

	lockedOut := false
	left := -1
	for _, action := range s.pending {
		action.AttemptsRemaining--
		if action.AttemptsRemaining <= 0 {
			s.retireLocked(action, StatusLockedOut)
			lockedOut = true
			continue
		}
		if left < 0 || action.AttemptsRemaining < left {
			left = action.AttemptsRemaining
		}
	}
	if lockedOut {
		return Outcome{Kind: LockedOut}
	}
	return Outcome{Kind: WrongCodeRetry, AttemptsLeft: left}
}

// retireLocked removes action with a terminal status and remembers its
// code for one more TTL. Caller must hold s.mu.
func (s *Store) retireLocked(action *PendingAction, status Status) {
	action.Status = status
	delete(s.pending, action.Code)
	ttl := action.ExpiresAt.Sub(action.IssuedAt)
	s.retired[action.Code] = retiredCode{status: status, until: s.now().Add(ttl)}
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Sweep expires and removes every action whose TTL has passed at now.
// It returns the number removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *Store) sweepLocked(now time.Time) int {
	for code, r := range s.retired {
		if !now.Before(r.until) {
			delete(s.retired, code)
		}
	}
	n := 0
	for _, action := range s.pending {
		if !now.Before(action.ExpiresAt) {
			s.retireLocked(action, StatusExpired)
			n++
		}
	}
	return n
}

// CancelAll moves every pending action to CANCELLED and empties the
// store. It returns the number cancelled.
func (s *Store) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for code, action := range s.pending {
		action.Status = StatusCancelled
		delete(s.pending, code)
	}
	clear(s.retired)
	return n
}

// Len returns the number of pending actions, ignoring any that are due
// for expiry but not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, action := range s.pending {
		if now.Before(action.ExpiresAt) {
			n++
		}
	}
	return n
}

// Run sweeps the store every interval until ctx is done. onSweep, if not
// nil, is called with the count after each sweep that removed something.
func (s *Store) Run(ctx context.Context, interval time.Duration, onSweep func(int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
