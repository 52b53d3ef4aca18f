// Package token issues and redeems the single-use, scope-bound credentials
// handed out when a request is approved.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	valueBytes = 32

	defaultTTL       = 5 * time.Minute
	defaultRetention = 30 * time.Second
)

// Rejection reasons, checked in this order.
const (
	ReasonNotFound      = "not-found"
	ReasonAlreadyUsed   = "already-used"
	ReasonExpired       = "expired"
	ReasonScopeMismatch = "scope-mismatch"
)

// Token is an approval credential bound to one request and one scope.
type Token struct {
	Value      string    `json:"value"`
	RequestID  string    `json:"request_id"`
	Platform   string    `json:"platform"`
	Action     string    `json:"action"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Consumed   bool      `json:"consumed"`
	ConsumedAt time.Time `json:"consumed_at,omitempty"`
}

// Result is the outcome of a validation attempt.
type Result struct {
	Accepted bool
	Token    Token
	Reason   string
}

// Event describes a validation outcome for observers.
type Event struct {
	Result   Result
	Value    string
	Platform string
	Action   string
}

// Observer is notified after each validation, outside any lock.
type Observer func(Event)

// Registry holds issued tokens.
type Registry struct {
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	random    func([]byte) (int, error)
	observer  Observer

	mu     sync.RWMutex
	tokens map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	tok Token
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetention sets how long consumed tokens are remembered.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithObserver registers a validation observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty token registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ttl:       defaultTTL,
		retention: defaultRetention,
		now:       time.Now,
		random:    rand.Read,
		tokens:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetObserver replaces the validation observer. It must be called before the
// registry is shared.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// TTL returns the token lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Issue mints a new token for the given request and scope. Platform and
// action are stored as given.
func (r *Registry) Issue(requestID, platform, action string) (Token, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Token{}, fmt.Errorf("request id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 3; attempt++ {
		value, err := r.newValue()
		if err != nil {
			return Token{}, err
		}
		if _, exists := r.tokens[value]; exists {
			continue
		}
		now := r.now().UTC()
		tok := Token{
			Value:     value,
			RequestID: requestID,
			Platform:  platform,
			Action:    action,
			IssuedAt:  now,
			ExpiresAt: now.Add(r.ttl),
		}
		r.tokens[value] = &entry{tok: tok}
		return tok, nil
	}
	return Token{}, fmt.Errorf("allocate token: too many collisions")
}

// Validate checks value against the requested scope and consumes it on
// success. Checks run in order: existence, consumption, expiry, scope. Scope
// strings must match the issued ones byte for byte. A scope mismatch leaves
// the token redeemable.
func (r *Registry) Validate(value, platform, action string) Result {
	value = strings.TrimSpace(value)

	result := r.validate(value, platform, action)
	if r.observer != nil {
		r.observer(Event{Result: result, Value: value, Platform: platform, Action: action})
	}
	return result
}

func (r *Registry) validate(value, platform, action string) Result {
	e := r.lookup(value)
	if e == nil {
		return Result{Reason: ReasonNotFound}
	}

	now := r.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.tok.Consumed:
		return Result{Token: e.tok, Reason: ReasonAlreadyUsed}
	case !now.Before(e.tok.ExpiresAt):
		return Result{Token: e.tok, Reason: ReasonExpired}
	case e.tok.Platform != platform || e.tok.Action != action:
		return Result{Token: e.tok, Reason: ReasonScopeMismatch}
	}

	e.tok.Consumed = true
	e.tok.ConsumedAt = now
	return Result{Accepted: true, Token: e.tok}
}

// Get returns a copy of the token without consuming it.
func (r *Registry) Get(value string) (Token, bool) {
	e := r.lookup(strings.TrimSpace(value))
	if e == nil {
		return Token{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tok, true
}

// Revoke removes a token. It reports whether the token existed.
func (r *Registry) Revoke(value string) bool {
	value = strings.TrimSpace(value)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[value]; !ok {
		return false
	}
	delete(r.tokens, value)
	return true
}

// ActiveCount returns the number of unconsumed, unexpired tokens.
func (r *Registry) ActiveCount() int {
	now := r.now().UTC()
	count := 0
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if !e.tok.Consumed && now.Before(e.tok.ExpiresAt) {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

// Sweep deletes expired tokens and consumed tokens past both their retention
// window and their expiry. It returns the number deleted.
func (r *Registry) Sweep() int {
	now := r.now().UTC()
	var stale []string
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if r.removableLocked(e, now) {
			stale = append(stale, e.tok.Value)
		}
		e.mu.Unlock()
	}
	if len(stale) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, value := range stale {
		if _, ok := r.tokens[value]; ok {
			delete(r.tokens, value)
			removed++
		}
	}
	return removed
}

func (r *Registry) removableLocked(e *entry, now time.Time) bool {
	if now.Before(e.tok.ExpiresAt) {
		return false
	}
	if !e.tok.Consumed {
		return true
	}
	return !now.Before(e.tok.ConsumedAt.Add(r.retention))
}

func (r *Registry) lookup(value string) *entry {
	if value == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[value]
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*entry, 0, len(r.tokens))
	for _, e := range r.tokens {
		entries = append(entries, e)
	}
	return entries
}

func (r *Registry) newValue() (string, error) {
	buf := make([]byte, valueBytes)
	if _, err := r.random(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
