package telnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 30*time.Second)
	want := []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		require.Equal(t, w, b.Next(), "step %d", i)
	}

	b.Reset()
	require.Equal(t, 500*time.Millisecond, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	require.Equal(t, DefaultBackoffInitial, b.Initial)
	require.Equal(t, DefaultBackoffMax, b.Max)

	b = NewBackoff(time.Minute, time.Second)
	require.Equal(t, time.Minute, b.Max)
}
