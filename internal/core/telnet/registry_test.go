package telnet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avrlink/avrlink/internal/core"
)

func TestRegistryRejectsUnknownCode(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("XX", func(core.Zone, string, string) {})
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = r.Register("MV", nil)
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	sub, err := r.Register("all", func(core.Zone, string, string) {})
	require.NoError(t, err)
	require.Equal(t, core.EventAll, sub.Code)
}

func TestRegistryDispatchOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	record := func(name string) Callback {
		return func(core.Zone, string, string) { order = append(order, name) }
	}

	_, err := r.Register(core.EventAll, record("all-1"))
	require.NoError(t, err)
	_, err = r.Register("MV", record("mv-1"))
	require.NoError(t, err)
	_, err = r.Register("MV", record("mv-2"))
	require.NoError(t, err)
	_, err = r.Register("PW", record("pw-1"))
	require.NoError(t, err)

	r.Dispatch(core.Event{Zone: core.ZoneMain, Code: "MV", Parameter: "50"}, nil)
	require.Equal(t, []string{"mv-1", "mv-2", "all-1"}, order)
}

func TestRegistryDuplicateRegistrationInvokesTwice(t *testing.T) {
	r := NewRegistry()
	calls := 0
	cb := func(core.Zone, string, string) { calls++ }
	_, err := r.Register("SI", cb)
	require.NoError(t, err)
	_, err = r.Register("SI", cb)
	require.NoError(t, err)

	r.Dispatch(core.Event{Code: "SI", Parameter: "CD"}, nil)
	require.Equal(t, 2, calls)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	calls := 0
	sub, err := r.Register("MU", func(core.Zone, string, string) { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	require.True(t, r.Unregister(sub))
	require.False(t, r.Unregister(sub))
	require.Zero(t, r.Len())

	r.Dispatch(core.Event{Code: "MU", Parameter: "ON"}, nil)
	require.Zero(t, calls)
}

func TestRegistryPanicIsolation(t *testing.T) {
	r := NewRegistry()
	var second, wildcard int
	var panics []string

	_, err := r.Register("MV", func(core.Zone, string, string) { panic("boom") })
	require.NoError(t, err)
	_, err = r.Register("MV", func(core.Zone, string, string) { second++ })
	require.NoError(t, err)
	_, err = r.Register(core.EventAll, func(core.Zone, string, string) { wildcard++ })
	require.NoError(t, err)

	onPanic := func(code string, _ any) { panics = append(panics, code) }
	r.Dispatch(core.Event{Code: "MV", Parameter: "40"}, onPanic)
	r.Dispatch(core.Event{Code: "MV", Parameter: "41"}, onPanic)

	require.Equal(t, 2, second)
	require.Equal(t, 2, wildcard)
	require.Equal(t, []string{"MV", "MV"}, panics)
}

func TestRegistryMutationDuringDispatch(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	_, err := r.Register(core.EventAll, func(core.Zone, string, string) {})
	require.NoError(t, err)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			sub, err := r.Register("PW", func(core.Zone, string, string) {})
			if err == nil {
				r.Unregister(sub)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Dispatch(core.Event{Code: "PW", Parameter: "ON"}, nil)
		}
	}()
	wg.Wait()
	require.Equal(t, 1, r.Len())
}
