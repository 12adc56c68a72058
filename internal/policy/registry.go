// Package policy implements the process-wide registry of authorization
// predicates. Every failure mode (unknown policy, predicate error, predicate
// panic) evaluates to deny; an authorization error must never be mistaken
// for a grant.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sentinel-authz/sentinel/internal/directory"
)

// Input carries the evaluation subject: the principal's resolved attributes
// plus the optional object and action under decision.
type Input struct {
	Attributes *directory.ResolvedAttributeSet
	Object     any
	Action     string
}

// Predicate is a single authorization rule.
type Predicate interface {
	Evaluate(ctx context.Context, in Input) (bool, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ctx context.Context, in Input) (bool, error)

// Evaluate implements Predicate.
func (f PredicateFunc) Evaluate(ctx context.Context, in Input) (bool, error) {
	return f(ctx, in)
}

// CompositeMode selects how a composite combines its members.
type CompositeMode int

const (
	// ModeAll allows only when every member allows.
	ModeAll CompositeMode = iota
	// ModeAny allows when at least one member allows.
	ModeAny
)

// DecisionRecorder observes evaluation outcomes, typically for metrics.
type DecisionRecorder interface {
	RecordDecision(policy string, allowed bool)
}

// Registry is a named table of predicates. Construct one instance at process
// start, populate it deterministically, and pass it to whatever evaluates
// policies.
type Registry struct {
	logger   *slog.Logger
	recorder DecisionRecorder

	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, predicates: make(map[string]Predicate)}
}

// Register stores a predicate under name. Re-registering an existing name
// overwrites it; the warning flags accidental collisions across
// independently authored policy sets.
func (r *Registry) Register(name string, p Predicate) {
	r.mu.Lock()
	_, replaced := r.predicates[name]
	r.predicates[name] = p
	r.mu.Unlock()
	if replaced {
		r.logger.Warn("policy re-registered, previous predicate replaced", slog.String("policy", name))
	}
}

// SetRecorder wires an outcome recorder. Call during boot wiring, before the
// registry sees traffic.
func (r *Registry) SetRecorder(rec DecisionRecorder) {
	r.recorder = rec
}

// Evaluate runs the named predicate. An unknown name, a predicate error, or a
// predicate panic all yield false.
func (r *Registry) Evaluate(ctx context.Context, name string, attrs *directory.ResolvedAttributeSet, object any, action string) bool {
	allowed := r.evaluate(ctx, name, attrs, object, action)
	if r.recorder != nil {
		r.recorder.RecordDecision(name, allowed)
	}
	return allowed
}

func (r *Registry) evaluate(ctx context.Context, name string, attrs *directory.ResolvedAttributeSet, object any, action string) bool {
	r.mu.RLock()
	p, ok := r.predicates[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("unknown policy evaluated, denying", slog.String("policy", name))
		return false
	}

	allowed, err := r.run(ctx, p, Input{Attributes: attrs, Object: object, Action: action})
	if err != nil {
		r.logger.Error("policy evaluation failed, denying",
			slog.String("policy", name),
			slog.Any("error", err))
		return false
	}
	return allowed
}

func (r *Registry) run(ctx context.Context, p Predicate, in Input) (allowed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			allowed = false
			err = fmt.Errorf("predicate panic: %v", rec)
		}
	}()
	return p.Evaluate(ctx, in)
}

// Composite builds and registers a predicate over existing registry entries.
// ModeAll stops at the first deny, ModeAny at the first allow. Members
// missing at evaluation time are skipped; with zero resolvable members both
// modes deny.
func (r *Registry) Composite(name string, members []string, mode CompositeMode) {
	members = append([]string(nil), members...)
	r.Register(name, PredicateFunc(func(ctx context.Context, in Input) (bool, error) {
		resolvable := 0
		for _, member := range members {
			r.mu.RLock()
			p, ok := r.predicates[member]
			r.mu.RUnlock()
			if !ok {
				r.logger.Warn("composite member missing, skipping",
					slog.String("policy", name),
					slog.String("member", member))
				continue
			}
			resolvable++
			allowed, err := r.run(ctx, p, in)
			if err != nil {
				return false, err
			}
			switch mode {
			case ModeAll:
				if !allowed {
					return false, nil
				}
			case ModeAny:
				if allowed {
					return true, nil
				}
			}
		}
		if resolvable == 0 {
			return false, nil
		}
		return mode == ModeAll, nil
	}))
}

// RequireRole returns a predicate allowing principals holding the role.
func RequireRole(role string) Predicate {
	return PredicateFunc(func(_ context.Context, in Input) (bool, error) {
		return in.Attributes.HasRole(role), nil
	})
}

// RequireAttr returns a predicate allowing principals whose named string
// attribute equals want.
func RequireAttr(name, want string) Predicate {
	return PredicateFunc(func(_ context.Context, in Input) (bool, error) {
		v, ok := in.Attributes.Attribute(name)
		if !ok || v.Kind != directory.TypeString {
			return false, nil
		}
		return v.Str == want, nil
	})
}
