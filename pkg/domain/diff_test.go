package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	running := StatusRunning
	success := StatusSuccess

	tests := []struct {
		name     string
		prev     *Checkpoint
		next     *Checkpoint
		wantDiff *CheckpointDiff
	}{
		{
			name: "Initial Load (Prev is Nil)",
			prev: nil,
			next: &Checkpoint{
				Playhead: &Cursor{ActionID: "a1"},
				Status:   StatusRunning,
				Globals:  map[string]any{"a": 1},
			},
			wantDiff: &CheckpointDiff{
				Playhead: &Cursor{ActionID: "a1"},
				Status:   &running,
				Globals:  map[string]any{"a": 1},
			},
		},
		{
			name: "No Changes",
			prev: &Checkpoint{
				Playhead: &Cursor{ActionID: "a1"},
				Status:   StatusRunning,
				Globals:  map[string]any{"a": 1},
			},
			next: &Checkpoint{
				Playhead: &Cursor{ActionID: "a1"},
				Status:   StatusRunning,
				Globals:  map[string]any{"a": 1},
			},
			wantDiff: nil,
		},
		{
			name: "Playhead Cleared On Finish",
			prev: &Checkpoint{Playhead: &Cursor{ActionID: "a9"}, Status: StatusRunning},
			next: &Checkpoint{Status: StatusSuccess},
			wantDiff: &CheckpointDiff{
				Playhead: &Cursor{},
				Status:   &success,
			},
		},
		{
			name: "Globals Added Modified Deleted",
			prev: &Checkpoint{Globals: map[string]any{"keep": 1, "mod": "x", "gone": true}},
			next: &Checkpoint{Globals: map[string]any{"keep": 1, "mod": "y", "new": []any{1.0}}},
			wantDiff: &CheckpointDiff{
				Globals: map[string]any{"mod": "y", "new": []any{1.0}, "gone": nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.prev, tt.next)
			assert.Equal(t, tt.wantDiff, got)
		})
	}
}

func TestDiff_JSONOmitsUnchanged(t *testing.T) {
	diff := Diff(
		&Checkpoint{URL: "https://a.test", Globals: map[string]any{"n": 1}},
		&Checkpoint{URL: "https://b.test", Globals: map[string]any{"n": 1}},
	)
	require.NotNil(t, diff)

	data, err := json.Marshal(diff)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://b.test"}`, string(data))
}

func TestCheckpointClone_IsDeep(t *testing.T) {
	cp := &Checkpoint{
		Globals:     map[string]any{"nested": map[string]any{"k": "v"}},
		Playhead:    &Cursor{ActionID: "a"},
		ContextRuns: map[string]int{"c": 1},
	}
	cl := cp.Clone()
	cl.Globals["nested"].(map[string]any)["k"] = "changed"
	cl.Playhead.ActionID = "b"
	cl.ContextRuns["c"] = 2

	assert.Equal(t, "v", cp.Globals["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", cp.Playhead.ActionID)
	assert.Equal(t, 1, cp.ContextRuns["c"])
}
