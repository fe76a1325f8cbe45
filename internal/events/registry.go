package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WildcardType subscribes a handler to every event type.
const WildcardType = "*"

var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscribeOptions configures a new subscription.
type SubscribeOptions struct {
	Filter *Filter

	// Disabled creates the subscription in a disabled state.
	Disabled bool
}

// Registry holds subscriptions and performs filter-based fan-out
// dispatch. All methods are safe for concurrent use. The registry is
// process-local state: it must be rebuilt by subscribers on restart.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	byType map[string]map[string]struct{} // event type -> subscription ids
	globs  map[string][]glob.Glob         // subscription id -> compiled patterns
	env    *cel.Env
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() (*Registry, error) {
	env, err := newFilterEnv()
	if err != nil {
		return nil, fmt.Errorf("creating filter environment: %w", err)
	}

	return &Registry{
		subs:   make(map[string]*Subscription),
		byType: make(map[string]map[string]struct{}),
		globs:  make(map[string][]glob.Glob),
		env:    env,
	}, nil
}

// Subscribe registers a handler for the given event types on behalf of
// a tenant. Types may be exact names, glob patterns like "order.*", or
// the wildcard "*". Returns the subscription id.
func (r *Registry) Subscribe(tenantID string, types []string, handler Handler, opts SubscribeOptions) (string, error) {
	if len(types) == 0 {
		return "", errors.New("at least one event type is required")
	}
	if handler == nil {
		return "", errors.New("handler is required")
	}

	if err := opts.Filter.compile(r.env); err != nil {
		return "", err
	}

	sub := &Subscription{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		EventTypes: types,
		Handler:    handler,
		Filter:     opts.Filter,
		Enabled:    !opts.Disabled,
		CreatedAt:  time.Now().UTC(),
	}

	var patterns []glob.Glob
	for _, t := range types {
		if t != WildcardType && strings.ContainsAny(t, "*?[{") {
			g, err := glob.Compile(t, '.')
			if err != nil {
				return "", fmt.Errorf("compiling type pattern %q: %w", t, err)
			}
			patterns = append(patterns, g)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[sub.ID] = sub
	for _, t := range types {
		if t != WildcardType && strings.ContainsAny(t, "*?[{") {
			continue // indexed via globs
		}
		ids, ok := r.byType[t]
		if !ok {
			ids = make(map[string]struct{})
			r.byType[t] = ids
		}
		ids[sub.ID] = struct{}{}
	}
	if len(patterns) > 0 {
		r.globs[sub.ID] = patterns
	}

	log.Debug().
		Str("subscription_id", sub.ID).
		Str("tenant_id", tenantID).
		Strs("types", types).
		Msg("Subscription registered")

	return sub.ID, nil
}

// SubscribeAll registers a handler for every event type.
func (r *Registry) SubscribeAll(tenantID string, handler Handler, opts SubscribeOptions) (string, error) {
	return r.Subscribe(tenantID, []string{WildcardType}, handler, opts)
}

// Unsubscribe removes a subscription from all indexes.
func (r *Registry) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}

	delete(r.subs, id)
	delete(r.globs, id)
	for _, t := range sub.EventTypes {
		if ids, ok := r.byType[t]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.byType, t)
			}
		}
	}

	log.Debug().Str("subscription_id", id).Msg("Subscription removed")

	return nil
}

// SetEnabled toggles a subscription without removing it.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}

	sub.Enabled = enabled
	return nil
}

// Get returns a subscription by id.
func (r *Registry) Get(id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return sub, nil
}

// Subscriptions lists a tenant's subscriptions. An empty tenant id
// lists all.
func (r *Registry) Subscriptions(tenantID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if tenantID == "" || sub.TenantID == tenantID {
			result = append(result, sub)
		}
	}
	return result
}

// Clear removes every subscription. Intended for shutdown and tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = make(map[string]*Subscription)
	r.byType = make(map[string]map[string]struct{})
	r.globs = make(map[string][]glob.Glob)
}

// Dispatch fans the event out to every matching, enabled, same-tenant
// subscription. Handlers run sequentially; one handler's failure does
// not prevent the remaining handlers from running and is aggregated
// into the result. A non-nil error means the dispatch machinery itself
// could not complete (context cancelled mid-fan-out), distinct from
// individual handler failures.
func (r *Registry) Dispatch(ctx context.Context, event *Event) (DispatchResult, error) {
	candidates := r.resolve(event)

	var result DispatchResult
	for _, sub := range candidates {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("dispatch interrupted: %w", err)
		}

		if err := sub.Handler(ctx, event); err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, fmt.Errorf("subscription %s: %w", sub.ID, err))

			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("subscription_id", sub.ID).
				Msg("Handler failed")
			continue
		}
		result.SuccessCount++
	}

	return result, nil
}

// resolve returns the matching subscriptions in stable (creation)
// order: the union of exact-type, wildcard, and glob-pattern matches,
// narrowed by tenant, enabled flag, and filter.
func (r *Registry) resolve(event *Event) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var matched []*Subscription

	consider := func(id string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		sub, ok := r.subs[id]
		if !ok || !sub.Enabled || sub.TenantID != event.TenantID {
			return
		}
		if !sub.Filter.Matches(event) {
			return
		}
		matched = append(matched, sub)
	}

	for id := range r.byType[event.Type] {
		consider(id)
	}
	for id := range r.byType[WildcardType] {
		consider(id)
	}
	for id, patterns := range r.globs {
		for _, g := range patterns {
			if g.Match(event.Type) {
				consider(id)
				break
			}
		}
	}

	// Map iteration order is random; keep dispatch order deterministic.
	sortSubscriptionsByCreation(matched)

	return matched
}

func sortSubscriptionsByCreation(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})
}
