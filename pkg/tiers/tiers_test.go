package tiers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindstate-AI/sdk/pkg/contentstore"
	"github.com/Mindstate-AI/sdk/pkg/tiers"
)

func newRouter(t *testing.T, rules []tiers.Rule, def tiers.TierID) *tiers.Router {
	t.Helper()
	r, err := tiers.NewRouter(rules, def)
	require.NoError(t, err)
	return r
}

func TestRouter_FirstMatchWins(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "hot"`},
		{Tier: "cold", Expr: `size > 1048576`},
	}, "standard")

	tier, err := r.Route("hot", 2<<20, "")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierID("hot"), tier, "earlier rule must win even when both match")

	tier, err = r.Route("archive", 2<<20, "")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierID("cold"), tier)
}

func TestRouter_DefaultTier(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "hot"`},
	}, "standard")

	tier, err := r.Route("anything-else", 10, "")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierID("standard"), tier)
}

func TestRouter_NoMatchNoDefault(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "hot"`},
	}, "")

	_, err := r.Route("cool", 10, "")
	assert.ErrorIs(t, err, tiers.ErrNoMatchingTier)
}

func TestRouter_SchemaRouting(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "archive", Expr: `schema.startsWith("https://schemas.example.com/")`},
	}, "standard")

	tier, err := r.Route("x", 10, "https://schemas.example.com/game-state/v1")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierID("archive"), tier)

	tier, err = r.Route("x", 10, "https://elsewhere.example.com/v1")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierID("standard"), tier)
}

func TestRouter_LabelNormalization(t *testing.T) {
	// Rule uses the composed form of "café"; the decomposed spelling must
	// still route to the same tier.
	r := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "café"`},
	}, "standard")

	tier, err := r.Route("café", 10, "")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierID("hot"), tier)
}

func TestRouter_CompileErrorFailsClosed(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "bad", Expr: `label == (`},
	}, "standard")

	_, err := r.Route("x", 10, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 0")
}

func TestRouter_Precompile(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "hot"`},
		{Tier: "bad", Expr: `label == (`},
	}, "standard")

	err := r.Precompile()
	require.Error(t, err, "bad rule must surface before any capsule routes")
	assert.Contains(t, err.Error(), "rule 1")

	ok := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "hot"`},
	}, "standard")
	assert.NoError(t, ok.Precompile())
}

func TestRouter_NonBoolExprFails(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "bad", Expr: `size`},
	}, "standard")

	_, err := r.Route("x", 10, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result not bool")
}

func TestRouter_StoreFor(t *testing.T) {
	r := newRouter(t, []tiers.Rule{
		{Tier: "hot", Expr: `label == "hot"`},
	}, "standard")

	hotStore := contentstore.NewMemoryStore()
	r.Bind("hot", hotStore)

	store, err := r.StoreFor("hot", 10, "")
	require.NoError(t, err)
	assert.Same(t, hotStore, store)

	_, err = r.StoreFor("other", 10, "")
	assert.ErrorIs(t, err, tiers.ErrUnboundTier, "default tier was never bound")
}
