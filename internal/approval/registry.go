// Package approval implements the in-process request registry: the state
// machine that moves each approval request from pending to exactly one
// terminal state.
package approval

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/postgate/internal/gateerr"
	"github.com/google/uuid"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultRetention = 24 * time.Hour

	defaultPlatform = "unknown"
	defaultAction   = "post"
)

// Registry owns approval requests and their status transitions.
// Each request is guarded by its own mutex; the map lock is only held for
// lookups, inserts and evictions.
type Registry struct {
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	newID     func() string
	listener  Listener

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	req Request
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets how long a request stays pending.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRetention sets how long terminal requests are kept for inspection.
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

// WithListener registers the transition observer.
func WithListener(l Listener) Option {
	return func(r *Registry) { r.listener = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ttl:       defaultTTL,
		retention: defaultRetention,
		now:       time.Now,
		newID:     uuid.NewString,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetListener replaces the transition observer. It must be called before the
// registry is shared.
func (r *Registry) SetListener(l Listener) {
	r.listener = l
}

// TTL returns the default pending window.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Create inserts a new pending request. Platform and action are opaque and
// kept exactly as given; only blank values fall back to the defaults.
func (r *Registry) Create(input CreateInput) (Request, error) {
	platform := input.Platform
	if strings.TrimSpace(platform) == "" {
		platform = defaultPlatform
	}
	action := input.Action
	if strings.TrimSpace(action) == "" {
		action = defaultAction
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = r.ttl
	}

	now := r.now().UTC()
	req := Request{
		Platform:  platform,
		Action:    action,
		Content:   input.Content,
		Target:    strings.TrimSpace(input.Target),
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 3; attempt++ {
		id := r.newID()
		if _, exists := r.entries[id]; exists {
			continue
		}
		req.ID = id
		r.entries[id] = &entry{req: req}
		return req, nil
	}
	return Request{}, fmt.Errorf("allocate request id: too many collisions")
}

// Get returns the request, materializing expiry if its window has passed.
func (r *Registry) Get(id string) (Request, error) {
	e, err := r.lookup("approval.get", id)
	if err != nil {
		return Request{}, err
	}

	e.mu.Lock()
	expired := r.expireLocked(e, r.now().UTC())
	snapshot := e.req
	e.mu.Unlock()

	if expired {
		r.notify(snapshot)
	}
	return snapshot, nil
}

// Transition moves a pending request to a terminal status. Only the first
// caller wins; everyone else gets gateerr.AlreadyDecided together with the
// current state. apply runs under the request lock after the guard passed and
// may only attach token fields.
func (r *Registry) Transition(id string, to RequestStatus, actor string, apply func(*Request)) (Request, error) {
	const op = "approval.transition"
	if !to.IsTerminal() {
		return Request{}, gateerr.New(gateerr.InvalidInput, op, fmt.Sprintf("cannot transition to %q", to))
	}
	e, err := r.lookup(op, id)
	if err != nil {
		return Request{}, err
	}

	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "unknown"
	}
	if to == StatusExpired {
		actor = SystemActor
	}

	now := r.now().UTC()

	e.mu.Lock()
	if to != StatusExpired && r.expireLocked(e, now) {
		snapshot := e.req
		e.mu.Unlock()
		r.notify(snapshot)
		return snapshot, gateerr.New(gateerr.AlreadyDecided, op, fmt.Sprintf("request %s already %s", id, snapshot.Status))
	}
	if e.req.Status != StatusPending {
		snapshot := e.req
		e.mu.Unlock()
		return snapshot, gateerr.New(gateerr.AlreadyDecided, op, fmt.Sprintf("request %s already %s", id, snapshot.Status))
	}

	if apply != nil {
		apply(&e.req)
	}
	e.req.Status = to
	e.req.DecidedBy = actor
	e.req.DecidedAt = now
	snapshot := e.req
	e.mu.Unlock()

	r.notify(snapshot)
	return snapshot, nil
}

// Expire applies the timeout transition. Firing on a terminal request is a
// no-op reported as AlreadyDecided.
func (r *Registry) Expire(id string) (Request, error) {
	return r.Transition(id, StatusExpired, SystemActor, nil)
}

// SetNotificationRef records where the prompt was published. It can only be
// set once.
func (r *Registry) SetNotificationRef(id string, ref PromptRef) error {
	const op = "approval.set_notification_ref"
	e, err := r.lookup(op, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.req.NotificationRef.IsZero() {
		return gateerr.New(gateerr.InvalidInput, op, fmt.Sprintf("notification ref for %s already set", id))
	}
	e.req.NotificationRef = ref
	return nil
}

// Delete drops a request. Used when no prompt could be delivered and the
// request id was never handed out.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// List returns requests matching the query, oldest first.
func (r *Registry) List(query Query) []Request {
	idFilter := strings.TrimSpace(query.ID)
	statusFilter := strings.TrimSpace(string(query.Status))
	platformFilter := strings.TrimSpace(query.Platform)
	now := r.now().UTC()

	var expired []Request
	result := make([]Request, 0)
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if r.expireLocked(e, now) {
			expired = append(expired, e.req)
		}
		req := e.req
		e.mu.Unlock()

		if idFilter != "" && req.ID != idFilter {
			continue
		}
		if statusFilter != "" && string(req.Status) != statusFilter {
			continue
		}
		if platformFilter != "" && !strings.EqualFold(req.Platform, platformFilter) {
			continue
		}
		result = append(result, req)
	}

	for _, req := range expired {
		r.notify(req)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// PendingCount returns how many requests are still awaiting a decision.
func (r *Registry) PendingCount() int {
	now := r.now().UTC()
	count := 0
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if e.req.Status == StatusPending && now.Before(e.req.ExpiresAt) {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

// Sweep expires overdue pending requests and evicts terminal requests older
// than the retention window. Correctness never depends on it running.
func (r *Registry) Sweep() (expired []Request, evicted int) {
	now := r.now().UTC()
	var stale []string

	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if r.expireLocked(e, now) {
			expired = append(expired, e.req)
		}
		if e.req.Status.IsTerminal() && !now.Before(e.req.DecidedAt.Add(r.retention)) {
			stale = append(stale, e.req.ID)
		}
		e.mu.Unlock()
	}

	if len(stale) > 0 {
		r.mu.Lock()
		for _, id := range stale {
			if _, ok := r.entries[id]; ok {
				delete(r.entries, id)
				evicted++
			}
		}
		r.mu.Unlock()
	}

	for _, req := range expired {
		r.notify(req)
	}
	return expired, evicted
}

func (r *Registry) lookup(op, id string) (*entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, gateerr.New(gateerr.InvalidInput, op, "id is required")
	}

	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, gateerr.New(gateerr.NotFound, op, fmt.Sprintf("request not found: %s", id))
	}
	return e, nil
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}

// expireLocked transitions an overdue pending request to expired. The caller
// holds e.mu. It reports whether a transition happened.
func (r *Registry) expireLocked(e *entry, now time.Time) bool {
	if e.req.Status != StatusPending || now.Before(e.req.ExpiresAt) {
		return false
	}
	e.req.Status = StatusExpired
	e.req.DecidedBy = SystemActor
	e.req.DecidedAt = now
	return true
}

func (r *Registry) notify(req Request) {
	if r.listener != nil {
		r.listener.RequestTransitioned(req)
	}
}
