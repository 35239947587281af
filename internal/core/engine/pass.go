package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// RefreshPass scopes one reconciliation cycle. Every document fetched under
// the same pass is fetched once and shared, including by concurrent callers
// that ask for it while the first fetch is still in flight. Failures are
// cached too so a broken endpoint is not retried within the same cycle.
type RefreshPass struct {
	ID string

	mu      sync.Mutex
	entries map[string]*passEntry
	fetches atomic.Int64
}

type passEntry struct {
	done   chan struct{}
	doc    Document
	err    error
	cached bool
}

// NewRefreshPass starts a new cycle with a random token.
func NewRefreshPass() *RefreshPass {
	return &RefreshPass{
		ID:      uuid.NewString(),
		entries: make(map[string]*passEntry),
	}
}

// Fetch returns the cached document for key or runs fetch exactly once.
// A fetch that panics or ends with a context error is not cached; callers
// waiting on it run their own fetch instead. A nil pass never caches.
func (p *RefreshPass) Fetch(key string, fetch func() (Document, error)) (Document, error) {
	if p == nil {
		return fetch()
	}

	for {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok {
			p.mu.Unlock()
			<-e.done
			if e.cached {
				return e.doc, e.err
			}
			continue
		}
		e := &passEntry{done: make(chan struct{})}
		p.entries[key] = e
		p.mu.Unlock()

		p.fetches.Add(1)
		p.run(key, e, fetch)
		return e.doc, e.err
	}
}

func (p *RefreshPass) run(key string, e *passEntry, fetch func() (Document, error)) {
	defer func() {
		if !e.cached {
			p.mu.Lock()
			if p.entries[key] == e {
				delete(p.entries, key)
			}
			p.mu.Unlock()
		}
		close(e.done)
	}()
	e.doc, e.err = fetch()
	e.cached = !isContextError(e.err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fetches returns how many network fetches the pass issued.
func (p *RefreshPass) Fetches() int64 {
	if p == nil {
		return 0
	}
	return p.fetches.Load()
}
