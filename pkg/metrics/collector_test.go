package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/lifecycle"
	"github.com/aretw0/marionette/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(t *testing.T, reg prometheus.Gatherer, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}

func TestCollector_Hooks(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	ctx := context.Background()
	hooks := c.Hooks()

	hooks.OnActionResult(ctx, &domain.ActionEvent{ActionType: "Flow.each", Outcome: domain.OutcomeEnter, Duration: 10 * time.Millisecond})
	hooks.OnActionResult(ctx, &domain.ActionEvent{ActionType: "Flow.each", Outcome: domain.OutcomeEnter})
	hooks.OnActionResult(ctx, &domain.ActionEvent{ActionType: "Flow.each", Outcome: domain.OutcomeSkip})
	hooks.OnContextEnter(ctx, &domain.ContextEvent{ContextID: "login"})
	hooks.OnRetry(ctx, &domain.RetryEvent{})
	hooks.OnRetry(ctx, &domain.RetryEvent{GaveUp: true})

	expected := `
# HELP marionette_actions_total Action turns by type and outcome.
# TYPE marionette_actions_total counter
marionette_actions_total{outcome="enter",type="Flow.each"} 2
marionette_actions_total{outcome="skip",type="Flow.each"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marionette_actions_total"))
	assert.Equal(t, 1, count(t, reg, "marionette_contexts_entered_total"))
	assert.Equal(t, 2, count(t, reg, "marionette_retries_total"))
}

func TestCollector_Sessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	lc := lifecycle.NewRegistry()
	require.NoError(t, lc.Register(c))
	ctx := context.Background()
	s := &lifecycle.Session{}

	require.NoError(t, lc.SessionStart(ctx, s))
	require.NoError(t, lc.SessionFinish(ctx, s, nil))
	require.NoError(t, lc.SessionStart(ctx, s))
	require.NoError(t, lc.SessionFinish(ctx, s, domain.ScriptError(domain.CodeScriptFailed, "nope")))

	expected := `
# HELP marionette_sessions_active Sessions currently playing.
# TYPE marionette_sessions_active gauge
marionette_sessions_active 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marionette_sessions_active"))
	assert.Equal(t, 2, count(t, reg, "marionette_sessions_total"))
}

func TestCollector_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	second, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	ctx := context.Background()
	first.Hooks().OnContextEnter(ctx, &domain.ContextEvent{ContextID: "a"})
	second.Hooks().OnContextEnter(ctx, &domain.ContextEvent{ContextID: "a"})

	expected := `
# HELP marionette_contexts_entered_total Committed context matches.
# TYPE marionette_contexts_entered_total counter
marionette_contexts_entered_total{context="a"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marionette_contexts_entered_total"))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "success", metrics.Result(nil))
	assert.Equal(t, "script_error", metrics.Result(domain.ScriptError(domain.CodeExpectFailed, "x")))
	assert.Equal(t, domain.CodeContextMatchTimeout, metrics.Result(domain.Fatal(domain.CodeContextMatchTimeout, "x")))
	assert.Equal(t, "error", metrics.Result(errors.New("boom")))
}
