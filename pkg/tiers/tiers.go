// Package tiers routes sealed capsules to storage backends by policy.
// Routing rules are CEL expressions over the capsule's label, ciphertext
// size, and schema URI; the first matching rule decides the tier.
package tiers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindstate-AI/sdk/pkg/contentstore"
)

var (
	// ErrNoMatchingTier is returned when no rule matches and no default
	// tier is configured.
	ErrNoMatchingTier = errors.New("tiers: no rule matched and no default tier")

	// ErrUnboundTier is returned when a routed tier has no bound store.
	ErrUnboundTier = errors.New("tiers: no store bound for tier")
)

// TierID names a storage tier.
type TierID string

// Tier describes a storage tier.
type Tier struct {
	ID          TierID
	Description string
}

// Rule routes capsules to a tier when its CEL expression evaluates true.
// Expressions see three variables: label (string, NFC-normalized),
// size (int, ciphertext length in bytes), and schema (string, may be empty).
type Rule struct {
	Tier TierID
	Expr string
}

// Router evaluates rules in order and resolves tiers to bound stores.
type Router struct {
	env         *cel.Env
	rules       []Rule
	defaultTier TierID

	mu       sync.RWMutex
	programs map[string]cel.Program
	stores   map[TierID]contentstore.Store
}

// NewRouter creates a router over the given rules. Rules are evaluated in
// order; the first match wins. defaultTier may be empty, in which case an
// unmatched capsule fails with ErrNoMatchingTier.
func NewRouter(rules []Rule, defaultTier TierID) (*Router, error) {
	env, err := cel.NewEnv(
		cel.Variable("label", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("schema", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("tiers: create CEL environment: %w", err)
	}
	return &Router{
		env:         env,
		rules:       rules,
		defaultTier: defaultTier,
		programs:    make(map[string]cel.Program),
		stores:      make(map[TierID]contentstore.Store),
	}, nil
}

// Bind associates a tier with a store. Later binds replace earlier ones.
func (r *Router) Bind(tier TierID, store contentstore.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[tier] = store
}

// Route evaluates the rules and returns the matched tier. The label is
// NFC-normalized before evaluation, so composed and decomposed spellings
// route identically.
func (r *Router) Route(label string, size int, schema string) (TierID, error) {
	input := map[string]any{
		"label":  norm.NFC.String(label),
		"size":   size,
		"schema": schema,
	}

	for i, rule := range r.rules {
		matched, err := r.evaluateExpr(rule.Expr, input)
		if err != nil {
			return "", fmt.Errorf("tiers: rule %d (%s): %w", i, rule.Tier, err)
		}
		if matched {
			return rule.Tier, nil
		}
	}

	if r.defaultTier == "" {
		return "", ErrNoMatchingTier
	}
	return r.defaultTier, nil
}

// StoreFor routes and resolves the bound store in one step.
func (r *Router) StoreFor(label string, size int, schema string) (contentstore.Store, error) {
	tier, err := r.Route(label, size, schema)
	if err != nil {
		return nil, err
	}
	return r.StoreByTier(tier)
}

// StoreByTier returns the store bound to an already-routed tier.
func (r *Router) StoreByTier(tier TierID) (contentstore.Store, error) {
	r.mu.RLock()
	store, ok := r.stores[tier]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnboundTier, tier)
	}
	return store, nil
}

// Precompile compiles every rule expression, surfacing bad rules before any
// capsule routes through them. Without it, compilation happens lazily on
// first evaluation.
func (r *Router) Precompile() error {
	for i, rule := range r.rules {
		if _, err := r.program(rule.Expr); err != nil {
			return fmt.Errorf("tiers: rule %d (%s): %w", i, rule.Tier, err)
		}
	}
	return nil
}

func (r *Router) program(expr string) (cel.Program, error) {
	r.mu.RLock()
	prg, hit := r.programs[expr]
	r.mu.RUnlock()
	if hit {
		return prg, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double check
	if prg, hit = r.programs[expr]; hit {
		return prg, nil
	}

	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := r.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	r.programs[expr] = prg
	return prg, nil
}

func (r *Router) evaluateExpr(expr string, input map[string]any) (bool, error) {
	prg, err := r.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
