package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
)

// Document is a parsed receiver XML document.
type Document interface {
	// Lookup evaluates path relative to the document root and returns the
	// element text, or the named attribute when attr is not empty.
	Lookup(path, attr string) (string, bool)
}

// DocumentSource fetches documents from the receiver.
type DocumentSource interface {
	FetchAppCommand(ctx context.Context, family core.DocumentFamily, cmds []core.AppCommand) (Document, error)
	FetchLegacy(ctx context.Context, endpoint string) (Document, error)
}

// Setter applies one resolved raw value to caller-owned state.
type Setter func(value string)

// Setters maps attribute names to their setter.
type Setters map[string]Setter

// Reconciler resolves attribute rules for one zone, preferring the batched
// AppCommand documents when the device supports them and falling back to
// the legacy status pages in order.
type Reconciler struct {
	source           DocumentSource
	zone             core.Zone
	preferStructured bool
	legacyEndpoints  []string
	catalogue        []core.AttributeRule
	setters          Setters
	log              core.Logger
}

// ReconcilerConfig holds the inputs of NewReconciler.
type ReconcilerConfig struct {
	Source           DocumentSource
	Zone             core.Zone
	PreferStructured bool
	LegacyEndpoints  []string
	// Catalogue is every rule the client knows. Batched fetches always cover
	// the whole catalogue so all callers in a pass share one document.
	Catalogue []core.AttributeRule
	Setters   Setters
	Logger    core.Logger
}

// NewReconciler validates that every catalogue rule has a setter.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: document source is required", core.ErrInvalidArgument)
	}
	for _, rule := range cfg.Catalogue {
		if err := core.ValidateRule(rule); err != nil {
			return nil, err
		}
		if _, ok := cfg.Setters[rule.Attribute]; !ok {
			return nil, fmt.Errorf("%w: no setter for attribute %s", core.ErrInvalidArgument, rule.Attribute)
		}
	}
	if cfg.Zone == "" {
		cfg.Zone = core.ZoneMain
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	return &Reconciler{
		source:           cfg.Source,
		zone:             cfg.Zone,
		preferStructured: cfg.PreferStructured,
		legacyEndpoints:  append([]string(nil), cfg.LegacyEndpoints...),
		catalogue:        append([]core.AttributeRule(nil), cfg.Catalogue...),
		setters:          cfg.Setters,
		log:              cfg.Logger,
	}, nil
}

// Zone returns the zone the reconciler resolves for.
func (r *Reconciler) Zone() core.Zone { return r.zone }

// Resolve looks up every rule and applies resolved values immediately.
// Values that resolve are applied even when others do not; in that case
// the returned error is a *core.ProcessingError naming the rest.
func (r *Reconciler) Resolve(ctx context.Context, rules []core.AttributeRule, pass *RefreshPass) (applied, unresolved []string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pending := make([]core.AttributeRule, 0, len(rules))
	for _, rule := range rules {
		if _, ok := r.setters[rule.Attribute]; !ok {
			return nil, nil, fmt.Errorf("%w: no setter for attribute %s", core.ErrInvalidArgument, rule.Attribute)
		}
		pending = append(pending, rule)
	}

	var lastErr error
	apply := func(rule core.AttributeRule, value string) {
		r.setters[rule.Attribute](value)
		applied = append(applied, rule.Attribute)
	}

	if r.preferStructured {
		for _, family := range []core.DocumentFamily{core.FamilyAppCommand, core.FamilyAppCommand0300} {
			if !hasStructured(pending, family) {
				continue
			}
			doc, ferr := r.fetchStructured(ctx, family, pending, pass)
			if ferr != nil {
				lastErr = ferr
				r.log.Debug("Structured document fetch failed, falling back",
					zap.String("family", family.String()), zap.Error(ferr))
				continue
			}
			pending = r.resolveWith(pending, func(rule core.AttributeRule) (string, bool) {
				if !rule.Structured() || rule.Command.Family() != family {
					return "", false
				}
				return doc.Lookup(rule.SearchPath(r.zone), rule.XMLAttribute)
			}, apply)
		}
	}

	for _, endpoint := range r.legacyEndpoints {
		if !hasLegacy(pending) {
			break
		}
		doc, ferr := r.fetchLegacy(ctx, endpoint, pass)
		if ferr != nil {
			lastErr = ferr
			r.log.Debug("Legacy document fetch failed",
				zap.String("endpoint", endpoint), zap.Error(ferr))
			continue
		}
		pending = r.resolveWith(pending, func(rule core.AttributeRule) (string, bool) {
			for _, path := range rule.LegacyPaths {
				if v, ok := doc.Lookup(path, rule.XMLAttribute); ok {
					return v, true
				}
			}
			return "", false
		}, apply)
	}

	var skipped []string
	for _, rule := range pending {
		if rule.Optional {
			skipped = append(skipped, rule.Attribute)
			continue
		}
		unresolved = append(unresolved, rule.Attribute)
	}
	if len(skipped) > 0 {
		r.log.Debug("Optional attributes not reported by device",
			zap.String("zone", string(r.zone)), zap.Strings("attributes", skipped))
	}
	if len(unresolved) > 0 {
		err = &core.ProcessingError{Zone: r.zone, Unresolved: unresolved, Err: lastErr}
		r.log.Debug("Attributes unresolved after all sources",
			zap.String("zone", string(r.zone)),
			zap.Strings("attributes", unresolved),
			zap.Strings("applied", applied))
	}
	return applied, unresolved, err
}

// ResolveAll resolves the full catalogue.
func (r *Reconciler) ResolveAll(ctx context.Context, pass *RefreshPass) (applied, unresolved []string, err error) {
	return r.Resolve(ctx, r.catalogue, pass)
}

func (r *Reconciler) resolveWith(pending []core.AttributeRule, lookup func(core.AttributeRule) (string, bool), apply func(core.AttributeRule, string)) []core.AttributeRule {
	remaining := pending[:0:0]
	for _, rule := range pending {
		if v, ok := lookup(rule); ok {
			apply(rule, v)
			continue
		}
		remaining = append(remaining, rule)
	}
	return remaining
}

func (r *Reconciler) fetchStructured(ctx context.Context, family core.DocumentFamily, pending []core.AttributeRule, pass *RefreshPass) (Document, error) {
	cmds := r.batch(family, pending)
	keys := make([]string, len(cmds))
	for i, c := range cmds {
		keys[i] = c.Key()
	}
	key := family.String() + ":" + strings.Join(keys, ",")
	return pass.Fetch(key, func() (Document, error) {
		return r.source.FetchAppCommand(ctx, family, cmds)
	})
}

func (r *Reconciler) fetchLegacy(ctx context.Context, endpoint string, pass *RefreshPass) (Document, error) {
	return pass.Fetch("legacy:"+endpoint, func() (Document, error) {
		return r.source.FetchLegacy(ctx, endpoint)
	})
}

// batch returns the deduplicated commands for family, catalogue first and
// then any extra rules outside the catalogue.
func (r *Reconciler) batch(family core.DocumentFamily, extra []core.AttributeRule) []core.AppCommand {
	seen := make(map[string]struct{})
	var cmds []core.AppCommand
	all := make([]core.AttributeRule, 0, len(r.catalogue)+len(extra))
	all = append(all, r.catalogue...)
	all = append(all, extra...)
	for _, rule := range all {
		if !rule.Structured() || rule.Command.Family() != family {
			continue
		}
		if _, ok := seen[rule.Command.Key()]; ok {
			continue
		}
		seen[rule.Command.Key()] = struct{}{}
		cmds = append(cmds, rule.Command)
	}
	return cmds
}

func hasStructured(rules []core.AttributeRule, family core.DocumentFamily) bool {
	for _, rule := range rules {
		if rule.Structured() && rule.Command.Family() == family {
			return true
		}
	}
	return false
}

func hasLegacy(rules []core.AttributeRule) bool {
	for _, rule := range rules {
		if len(rule.LegacyPaths) > 0 {
			return true
		}
	}
	return false
}
