package telnet

import "time"

// Default reconnect backoff bounds.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
)

// Backoff yields doubling delays capped at Max. A fresh Backoff is used for
// every reconnect episode so a success always restarts at Initial.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// NewBackoff returns a Backoff, substituting defaults for non-positive bounds.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max, next: initial}
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
	}
	delay := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	return delay
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.next = b.Initial
}
