package runtime_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/marionette/internal/runtime"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/script"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const languagesScript = `{
  "id": "languages",
  "contexts": [{
    "id": "main",
    "matchers": [
      {"type": "DOM.queryAll", "selector": "select"},
      {"type": "List.count"},
      {"type": "Number.compare", "operator": "gt", "value": 0}
    ],
    "actions": [
      {"id": "codes", "type": "Data.sendOutput", "key": "codes", "collect": true, "pipeline": [
        {"type": "DOM.queryAll", "selector": "select option"},
        {"type": "DOM.getAttribute", "name": "value"}
      ]},
      {"id": "each", "type": "Flow.each", "pipeline": [{"type": "DOM.queryAll", "selector": "option"}], "children": [
        {"id": "name", "type": "Data.sendOutput", "key": "name", "pipeline": [{"type": "DOM.getText"}]}
      ]},
      {"id": "done", "type": "Data.sendOutput", "key": "done", "pipeline": [{"type": "Value.getConstant", "value": true}]}
    ]
  }]
}`

type recorder struct {
	mu       sync.Mutex
	results  []string
	contexts []string
}

func (r *recorder) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnActionResult: func(_ context.Context, e *domain.ActionEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.results = append(r.results, e.ActionID+":"+string(e.Outcome))
		},
		OnContextEnter: func(_ context.Context, e *domain.ContextEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.contexts = append(r.contexts, e.ContextID)
		},
	}
}

func TestPlayer_Run_EachOverElements(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, languagesScript, runtime.WithLifecycleHooks(rec.hooks()))

	status, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	assert.Equal(t, []any{[]any{"en", "fr", "pt", "es"}}, h.outputs("codes"))
	assert.Equal(t, []any{"English", "French", "Portuguese", "Spanish"}, h.outputs("name"))
	assert.Equal(t, []any{true}, h.outputs("done"))

	want := []string{
		"codes:leave",
		"each:enter", "name:leave",
		"each:enter", "name:leave",
		"each:enter", "name:leave",
		"each:enter", "name:leave",
		"each:skip",
		"done:leave",
	}
	if diff := cmp.Diff(want, rec.results); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"main"}, rec.contexts)
	assert.Nil(t, h.script.Runtime.Playhead)
}

func TestPlayer_Run_EachOverNothingSkipsChildren(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "each", "type": "Flow.each", "pipeline": [{"type": "DOM.queryAll", "selector": "table"}], "children": [
			{"id": "never", "type": "Data.sendOutput", "key": "never"}
		]},
		{"id": "after", "type": "Data.sendOutput", "key": "after", "pipeline": [{"type": "Value.getConstant", "value": 1}]}
	]}]}`)

	status, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Empty(t, h.outputs("never"))
	assert.Equal(t, []any{float64(1)}, h.outputs("after"))
}

func TestPlayer_Run_WhileLimitExceeded(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "loop", "type": "Flow.while", "limit": 3, "pipeline": [{"type": "Value.getConstant", "value": true}], "children": [
			{"id": "tick", "type": "Data.sendOutput", "key": "tick", "pipeline": [{"type": "Value.getConstant", "value": "t"}]}
		]}
	]}]}`)

	status, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, domain.CodeLoopLimitExceeded, domain.CodeOf(err))
	assert.Len(t, h.outputs("tick"), 3)
}

func TestPlayer_Run_WhileDefaultLimit(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "loop", "type": "Flow.while", "pipeline": [{"type": "Value.getConstant", "value": true}], "children": [
			{"id": "tick", "type": "Data.sendOutput", "key": "tick", "pipeline": [{"type": "Value.getConstant", "value": "t"}]}
		]}
	]}]}`)

	status, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, domain.CodeLoopLimitExceeded, domain.CodeOf(err))
	assert.Len(t, h.outputs("tick"), 10, "the 11th truthy evaluation fails")
}

func TestPlayer_Run_FalseConditionsSkip(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "when", "type": "Flow.if", "pipeline": [{"type": "Value.getConstant", "value": false}], "children": [
			{"id": "a", "type": "Data.sendOutput", "key": "never"}
		]},
		{"id": "loop", "type": "Flow.while", "pipeline": [{"type": "Value.getConstant", "value": 0}], "children": [
			{"id": "b", "type": "Data.sendOutput", "key": "never"}
		]},
		{"id": "end", "type": "Data.sendOutput", "key": "end", "pipeline": [{"type": "Value.getConstant", "value": "x"}]}
	]}]}`, runtime.WithLifecycleHooks(rec.hooks()))

	_, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.outputs("never"))
	assert.Equal(t, []string{"when:skip", "loop:skip", "end:leave"}, rec.results)
}

func TestPlayer_Run_FindNarrowsScope(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "find", "type": "Flow.find", "pipeline": [{"type": "DOM.queryOne", "selector": "select"}], "children": [
			{"id": "count", "type": "Data.sendOutput", "key": "count", "pipeline": [
				{"type": "DOM.queryAll", "selector": "option"}, {"type": "List.count"}
			]}
		]},
		{"id": "missing", "type": "Flow.find", "optional": true, "pipeline": [{"type": "DOM.queryOne", "selector": "table", "optional": true}], "children": [
			{"id": "never", "type": "Data.sendOutput", "key": "never"}
		]}
	]}]}`)

	_, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{4}, h.outputs("count"))
	assert.Empty(t, h.outputs("never"))
}

func TestPlayer_Run_LeaveContextAndLimits(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, `{"contexts": [
		{"id": "first", "limit": 2, "actions": [
			{"id": "one", "type": "Data.sendOutput", "key": "ctx", "pipeline": [{"type": "Value.getConstant", "value": "first"}]},
			{"id": "leave", "type": "Flow.leaveContext"},
			{"id": "never", "type": "Data.sendOutput", "key": "never"}
		]},
		{"id": "second", "actions": [
			{"id": "two", "type": "Data.sendOutput", "key": "ctx", "pipeline": [{"type": "Value.getConstant", "value": "second"}]}
		]}
	]}`, runtime.WithLifecycleHooks(rec.hooks()))

	status, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, []any{"first", "first", "second"}, h.outputs("ctx"))
	assert.Empty(t, h.outputs("never"))
	assert.Equal(t, []string{"first", "first", "second"}, rec.contexts)
}

func TestPlayer_Run_SuccessStopsEarly(t *testing.T) {
	h := newHarness(t, `{"contexts": [
		{"id": "a", "actions": [{"id": "ok", "type": "Flow.success"}]},
		{"id": "b", "actions": [{"id": "never", "type": "Data.sendOutput", "key": "never"}]}
	]}`)

	status, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)
	assert.Empty(t, h.outputs("never"))
}

func TestPlayer_Run_FailIsScriptError(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "boom", "type": "Flow.fail", "message": "out of stock"}
	]}]}`)

	status, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.True(t, domain.IsScriptError(err))
	assert.Equal(t, domain.CodeScriptFailed, domain.CodeOf(err))
	assert.Contains(t, err.Error(), "out of stock")
}

func TestPlayer_Run_ExpectTimesOut(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "expect", "type": "Flow.expect", "timeout": "1s", "message": "banner missing", "pipeline": [
			{"type": "DOM.queryAll", "selector": ".banner"}, {"type": "List.count"}
		]}
	]}]}`)

	_, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsScriptError(err))
	assert.Equal(t, domain.CodeExpectFailed, domain.CodeOf(err))
}

func TestPlayer_Run_ContextMatchTimeout(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c",
		"matchers": [{"type": "Value.getConstant", "value": false}],
		"actions": [{"id": "a", "type": "Flow.success"}]
	}]}`)
	start := h.clock.Now()

	status, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, domain.CodeContextMatchTimeout, domain.CodeOf(err))

	// The static page is loaded and silent, so the idle deadline applies.
	elapsed := h.clock.Now().Sub(start)
	assert.Greater(t, elapsed, runtime.DefaultMatchTimeoutIdle)
	assert.Less(t, elapsed, runtime.DefaultMatchTimeoutLoaded)
}

func TestPlayer_Run_FatalMatcherAborts(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c",
		"matchers": [{"type": "Value.parseJson"}],
		"actions": [{"id": "a", "type": "Flow.success"}]
	}]}`)

	_, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidParameter, domain.CodeOf(err))
}

func TestPlayer_Run_CancelledFlowInterrupts(t *testing.T) {
	h := newHarness(t, languagesScript)
	h.flow.Cancel("user request")

	status, err := h.player.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, domain.CodeInterrupted, domain.CodeOf(err))
}

func TestPlayer_Run_GlobalsAndInputs(t *testing.T) {
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "set", "type": "Data.setGlobal", "key": "user", "pipeline": [{"type": "Data.getInput", "key": "name"}]},
		{"id": "echo", "type": "Data.sendOutput", "key": "hello", "pipeline": [{"type": "Data.getGlobal", "key": "user"}]}
	]}]}`)
	h.flow.SetInput("name", "ada")

	_, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"ada"}, h.outputs("hello"))
}

func TestPlayer_Run_UnknownActionTypeFailsDecode(t *testing.T) {
	_, err := script.Decode([]byte(`{"contexts": [{"id": "c", "actions": [{"type": "Flow.teleport"}]}]}`), newCatalog())
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidScript, domain.CodeOf(err))
}

// stepUntil steps the player until the playhead rests on id.
func stepUntil(t *testing.T, p *runtime.Player, id string, cond func(*script.Runtime) bool) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		rt := p.Script().Runtime
		if rt.Playhead != nil && rt.Playhead.ActionID == id && (cond == nil || cond(rt)) {
			return
		}
		done, err := p.Step(ctx)
		require.NoError(t, err)
		require.False(t, done, "script finished before reaching %s", id)
	}
	t.Fatalf("playhead never reached %s", id)
}

func TestPlayer_ResumeInsideEach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, languagesScript)
	require.NoError(t, h.player.Start(ctx))

	stepUntil(t, h.player, "name", func(rt *script.Runtime) bool {
		return rt.State("each").Index == 2
	})
	cp := &domain.Checkpoint{}
	h.script.Runtime.Capture(cp)
	assert.Equal(t, &domain.Cursor{ActionID: "name"}, cp.Playhead)
	assert.Equal(t, 1, cp.ContextRuns["main"])

	// A new session over the same script resumes from ids and counters alone.
	resumed := newHarness(t, languagesScript)
	resumed.script.Runtime.Restore(cp)
	status, err := resumed.player.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	assert.Equal(t, []any{"Portuguese", "Spanish"}, resumed.outputs("name"))
	assert.Empty(t, resumed.outputs("codes"))
	assert.Equal(t, []any{true}, resumed.outputs("done"))
}

func TestPlayer_CheckpointSink(t *testing.T) {
	var labels []string
	h := newHarness(t, `{"contexts": [{"id": "c", "actions": [
		{"id": "save", "type": "Data.checkpoint", "label": "before-submit"}
	]}]}`, runtime.WithCheckpointSink(func(ctx context.Context, label string) (*domain.Checkpoint, error) {
		labels = append(labels, label)
		return &domain.Checkpoint{ID: "cp-1", Label: label}, nil
	}))

	_, err := h.player.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"before-submit"}, labels)
}

func TestPlayer_FinishResetsRuntime(t *testing.T) {
	h := newHarness(t, languagesScript)
	_, err := h.player.Run(context.Background())
	require.NoError(t, err)

	rt := h.script.Runtime
	assert.Equal(t, domain.StatusSuccess, rt.Status)
	assert.Nil(t, rt.Playhead)
	assert.Empty(t, rt.ContextRuns)
	assert.Empty(t, rt.Actions)
}
