package telnet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/avrlink/avrlink/internal/core"
)

// Callback receives one decoded event.
type Callback func(zone core.Zone, code, parameter string)

// Subscription identifies a registered callback for later removal.
type Subscription struct {
	ID   uint64
	Code string
}

type subscriber struct {
	id uint64
	cb Callback
}

// Registry maps event codes, plus the ALL wildcard, to ordered callbacks.
// Slices are replaced on every mutation so Dispatch can iterate a snapshot
// without holding the lock.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscriber
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string][]subscriber)}
}

// Register appends cb to the subscribers of code. Codes outside the
// recognized event set are rejected; ALL is always accepted.
func (r *Registry) Register(code string, cb Callback) (Subscription, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if cb == nil {
		return Subscription{}, fmt.Errorf("%w: nil callback", core.ErrInvalidArgument)
	}
	if code != core.EventAll && !core.IsEventCode(code) {
		return Subscription{}, fmt.Errorf("%w: unknown event code %q", core.ErrInvalidArgument, code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	current := r.subs[code]
	next := make([]subscriber, len(current), len(current)+1)
	copy(next, current)
	r.subs[code] = append(next, subscriber{id: r.nextID, cb: cb})
	return Subscription{ID: r.nextID, Code: code}, nil
}

// Unregister removes the subscription. It reports whether anything was removed.
func (r *Registry) Unregister(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.subs[sub.Code]
	for i, s := range current {
		if s.id != sub.ID {
			continue
		}
		next := make([]subscriber, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, sub.Code)
		} else {
			r.subs[sub.Code] = next
		}
		return true
	}
	return false
}

// Len returns the total number of subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subs {
		n += len(s)
	}
	return n
}

func (r *Registry) snapshot(code string) (specific, wildcard []subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[code], r.subs[core.EventAll]
}

// Dispatch invokes every subscriber of ev.Code, then every ALL subscriber.
// A panicking callback is recovered and reported through onPanic; the
// remaining subscribers still run.
func (r *Registry) Dispatch(ev core.Event, onPanic func(code string, recovered any)) {
	specific, wildcard := r.snapshot(ev.Code)
	for _, s := range specific {
		invoke(s.cb, ev, onPanic)
	}
	for _, s := range wildcard {
		invoke(s.cb, ev, onPanic)
	}
}

func invoke(cb Callback, ev core.Event, onPanic func(code string, recovered any)) {
	defer func() {
		if rec := recover(); rec != nil && onPanic != nil {
			onPanic(ev.Code, rec)
		}
	}()
	cb(ev.Zone, ev.Code, ev.Parameter)
}
