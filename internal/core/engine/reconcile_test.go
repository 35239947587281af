package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avrlink/avrlink/internal/core"
)

type mapDocument map[string]string

func (m mapDocument) Lookup(path, attr string) (string, bool) {
	v, ok := m[path+"|"+attr]
	return v, ok
}

type fakeSource struct {
	mu        sync.Mutex
	structure map[core.DocumentFamily]Document
	legacy    map[string]Document
	errs      map[string]error
	calls     map[string]int
	batches   [][]core.AppCommand
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		structure: map[core.DocumentFamily]Document{},
		legacy:    map[string]Document{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeSource) record(key string, cmds []core.AppCommand) error {
	f.mu.Lock()
	f.calls[key]++
	if cmds != nil {
		f.batches = append(f.batches, cmds)
	}
	err := f.errs[key]
	f.mu.Unlock()
	return err
}

func (f *fakeSource) FetchAppCommand(_ context.Context, family core.DocumentFamily, cmds []core.AppCommand) (Document, error) {
	if err := f.record(family.String(), cmds); err != nil {
		return nil, err
	}
	doc, ok := f.structure[family]
	if !ok {
		return nil, core.ErrInvalidResponse
	}
	return doc, nil
}

func (f *fakeSource) FetchLegacy(_ context.Context, endpoint string) (Document, error) {
	if err := f.record(endpoint, nil); err != nil {
		return nil, err
	}
	doc, ok := f.legacy[endpoint]
	if !ok {
		return nil, &core.RequestError{URL: endpoint, Status: 404}
	}
	return doc, nil
}

func (f *fakeSource) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

var (
	ruleA = core.AttributeRule{
		Attribute:  "volume",
		Command:    core.AppCommand{ID: "1", Text: "GetAllZoneVolume"},
		ZoneScoped: true,
		Suffix:     "/volume",
	}
	ruleB = core.AttributeRule{
		Attribute:   "sleep",
		LegacyPaths: []string{"./Sleep/value"},
	}
	ruleC = core.AttributeRule{
		Attribute:   "dimmer",
		Command:     core.AppCommand{ID: "1", Text: "GetDimmer"},
		LegacyPaths: []string{"./Dimmer/value"},
	}
	ruleD = core.AttributeRule{
		Attribute:    "multeq_control",
		Command:      core.AppCommand{ID: "3", Name: "GetAudyssey"},
		Suffix:       "/list/param[@name='multeq']",
		XMLAttribute: "control",
	}
)

type recorder struct {
	mu     sync.Mutex
	values map[string]string
}

func (r *recorder) setters(attrs ...string) Setters {
	s := Setters{}
	for _, a := range attrs {
		attr := a
		s[attr] = func(v string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.values == nil {
				r.values = map[string]string{}
			}
			r.values[attr] = v
		}
	}
	return s
}

func newTestReconciler(t *testing.T, src *fakeSource, rec *recorder, prefer bool) *Reconciler {
	t.Helper()
	r, err := NewReconciler(ReconcilerConfig{
		Source:           src,
		Zone:             core.ZoneMain,
		PreferStructured: prefer,
		LegacyEndpoints:  []string{"page1", "page2"},
		Catalogue:        []core.AttributeRule{ruleA, ruleB, ruleC, ruleD},
		Setters:          rec.setters("volume", "sleep", "dimmer", "multeq_control"),
		Logger:           zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return r
}

func TestResolveStructuredThenLegacy(t *testing.T) {
	src := newFakeSource()
	src.structure[core.FamilyAppCommand] = mapDocument{
		"./cmd[@cmd_text='GetAllZoneVolume']/zone1/volume|": "-35.0",
	}
	src.legacy["page1"] = mapDocument{}
	src.legacy["page2"] = mapDocument{"./Sleep/value|": "OFF"}

	rec := &recorder{}
	r := newTestReconciler(t, src, rec, true)

	applied, unresolved, err := r.Resolve(context.Background(), []core.AttributeRule{ruleA, ruleB}, NewRefreshPass())
	require.NoError(t, err)
	require.Empty(t, unresolved)
	require.ElementsMatch(t, []string{"volume", "sleep"}, applied)
	require.Equal(t, "-35.0", rec.values["volume"])
	require.Equal(t, "OFF", rec.values["sleep"])

	require.Equal(t, 1, src.count("appcommand"))
	require.Equal(t, 1, src.count("page1"))
	require.Equal(t, 1, src.count("page2"))
	require.Zero(t, src.count("appcommand0300"), "no id 3 rule requested")

	require.Len(t, src.batches, 1)
	require.Equal(t, []core.AppCommand{ruleA.Command, ruleC.Command}, src.batches[0])
}

func TestResolveReportsUnresolvedAndKeepsPartial(t *testing.T) {
	src := newFakeSource()
	src.structure[core.FamilyAppCommand] = mapDocument{
		"./cmd[@cmd_text='GetAllZoneVolume']/zone1/volume|": "-40.5",
	}
	src.legacy["page1"] = mapDocument{}
	src.legacy["page2"] = mapDocument{"./Sleep/value|": "060"}

	rec := &recorder{}
	r := newTestReconciler(t, src, rec, true)

	applied, unresolved, err := r.Resolve(context.Background(), []core.AttributeRule{ruleA, ruleB, ruleC}, NewRefreshPass())
	require.Error(t, err)

	var pe *core.ProcessingError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, []string{"dimmer"}, pe.Unresolved)
	require.Equal(t, core.ZoneMain, pe.Zone)
	require.Equal(t, []string{"dimmer"}, unresolved)
	require.ElementsMatch(t, []string{"volume", "sleep"}, applied)
	require.Equal(t, "-40.5", rec.values["volume"])
	require.Equal(t, "060", rec.values["sleep"])
}

func TestResolveXMLAttributeFromSecondFamily(t *testing.T) {
	src := newFakeSource()
	src.structure[core.FamilyAppCommand0300] = mapDocument{
		"./cmd[@name='GetAudyssey']/list/param[@name='multeq']|control": "1",
	}
	rec := &recorder{}
	r := newTestReconciler(t, src, rec, true)

	applied, unresolved, err := r.Resolve(context.Background(), []core.AttributeRule{ruleD}, nil)
	require.NoError(t, err)
	require.Empty(t, unresolved)
	require.Equal(t, []string{"multeq_control"}, applied)
	require.Equal(t, "1", rec.values["multeq_control"])
	require.Zero(t, src.count("page1"))
}

func TestResolveLegacyOnlyDevice(t *testing.T) {
	src := newFakeSource()
	src.legacy["page1"] = mapDocument{"./Dimmer/value|": "DIM", "./Sleep/value|": "OFF"}

	rec := &recorder{}
	r := newTestReconciler(t, src, rec, false)

	applied, unresolved, err := r.Resolve(context.Background(), []core.AttributeRule{ruleB, ruleC}, NewRefreshPass())
	require.NoError(t, err)
	require.Empty(t, unresolved)
	require.ElementsMatch(t, []string{"sleep", "dimmer"}, applied)
	require.Zero(t, src.count("appcommand"))
	require.Zero(t, src.count("page2"), "stops once everything resolved")
}

func TestResolveStructuredFailureFallsBack(t *testing.T) {
	netErr := &core.NetworkError{Op: "post", Addr: "avr", Err: errors.New("reset")}
	src := newFakeSource()
	src.errs["appcommand"] = netErr
	src.legacy["page1"] = mapDocument{"./Dimmer/value|": "BRI"}

	rec := &recorder{}
	r := newTestReconciler(t, src, rec, true)

	applied, unresolved, err := r.Resolve(context.Background(), []core.AttributeRule{ruleA, ruleC}, NewRefreshPass())
	require.Equal(t, []string{"dimmer"}, applied)
	require.Equal(t, []string{"volume"}, unresolved)
	require.True(t, core.IsProcessing(err))
	require.True(t, core.IsNetwork(err), "last fetch error is wrapped: %v", err)
}

func TestRefreshPassSharesDocuments(t *testing.T) {
	src := newFakeSource()
	src.structure[core.FamilyAppCommand] = mapDocument{
		"./cmd[@cmd_text='GetAllZoneVolume']/zone1/volume|": "-20.0",
		"./cmd[@cmd_text='GetDimmer']|":                     "OFF",
	}
	rec := &recorder{}
	r := newTestReconciler(t, src, rec, true)

	pass := NewRefreshPass()
	require.NotEmpty(t, pass.ID)

	_, _, err := r.Resolve(context.Background(), []core.AttributeRule{ruleA}, pass)
	require.NoError(t, err)
	_, _, err = r.Resolve(context.Background(), []core.AttributeRule{ruleC}, pass)
	require.NoError(t, err)
	require.Equal(t, 1, src.count("appcommand"))
	require.Equal(t, int64(1), pass.Fetches())

	_, _, err = r.Resolve(context.Background(), []core.AttributeRule{ruleA}, NewRefreshPass())
	require.NoError(t, err)
	require.Equal(t, 2, src.count("appcommand"), "a new pass fetches again")
}

func TestRefreshPassDeduplicatesConcurrentFetches(t *testing.T) {
	pass := NewRefreshPass()
	gate := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]Document, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := pass.Fetch("legacy:page1", func() (Document, error) {
				calls.Add(1)
				<-gate
				return mapDocument{"x|": "y"}, nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = doc
		}(i)
	}
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, doc := range results {
		v, ok := doc.Lookup("x", "")
		require.True(t, ok)
		require.Equal(t, "y", v)
	}
}

func TestNewReconcilerRequiresSetters(t *testing.T) {
	_, err := NewReconciler(ReconcilerConfig{
		Source:    newFakeSource(),
		Catalogue: []core.AttributeRule{ruleA},
		Setters:   Setters{},
	})
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewReconciler(ReconcilerConfig{})
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestResolveOptionalRulesAreNotReported(t *testing.T) {
	src := newFakeSource()
	src.structure[core.FamilyAppCommand] = mapDocument{
		"./cmd[@cmd_text='GetAllZoneVolume']/zone1/volume|": "-10.0",
	}
	optional := ruleC
	optional.Optional = true

	rec := &recorder{}
	r := newTestReconciler(t, src, rec, true)
	applied, unresolved, err := r.Resolve(context.Background(), []core.AttributeRule{ruleA, optional}, NewRefreshPass())
	require.NoError(t, err)
	require.Empty(t, unresolved)
	require.Equal(t, []string{"volume"}, applied)
}

func TestRefreshPassDoesNotCacheContextErrors(t *testing.T) {
	pass := NewRefreshPass()
	var calls atomic.Int32

	_, err := pass.Fetch("legacy:page1", func() (Document, error) {
		calls.Add(1)
		return nil, &core.TimeoutError{Op: "fetch", Addr: "avr:80", Err: context.Canceled}
	})
	require.ErrorIs(t, err, context.Canceled)

	doc, err := pass.Fetch("legacy:page1", func() (Document, error) {
		calls.Add(1)
		return mapDocument{"x|": "y"}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Equal(t, int32(2), calls.Load(), "a cancelled fetch is retried")

	broken := errors.New("connection refused")
	_, err = pass.Fetch("legacy:page2", func() (Document, error) {
		calls.Add(1)
		return nil, broken
	})
	require.ErrorIs(t, err, broken)
	_, err = pass.Fetch("legacy:page2", func() (Document, error) {
		calls.Add(1)
		return mapDocument{}, nil
	})
	require.ErrorIs(t, err, broken, "other failures stay cached for the pass")
	require.Equal(t, int32(3), calls.Load())
}

func TestRefreshPassWaitersSurvivePanickingFetch(t *testing.T) {
	pass := NewRefreshPass()
	started := make(chan struct{})
	gate := make(chan struct{})

	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		_, _ = pass.Fetch("legacy:page1", func() (Document, error) {
			close(started)
			<-gate
			panic("decoder exploded")
		})
	}()
	<-started

	result := make(chan Document, 1)
	go func() {
		doc, err := pass.Fetch("legacy:page1", func() (Document, error) {
			return mapDocument{"x|": "y"}, nil
		})
		if err != nil {
			t.Error(err)
		}
		result <- doc
	}()
	close(gate)

	require.Equal(t, "decoder exploded", <-panicked)
	select {
	case doc := <-result:
		v, ok := doc.Lookup("x", "")
		require.True(t, ok)
		require.Equal(t, "y", v)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter blocked after the first fetch panicked")
	}
}
