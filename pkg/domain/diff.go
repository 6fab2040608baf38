package domain

import (
	"reflect"
)

// CheckpointDiff represents the changes between two checkpoints.
// It is designed to be serialized to JSON for partial updates on observers.
type CheckpointDiff struct {
	// Playhead is set when the cursor moved (or was cleared, with an empty ActionID).
	Playhead *Cursor `json:"playhead,omitempty"`

	Status *Status `json:"status,omitempty"`

	ContextID *string `json:"contextId,omitempty"`

	// URL is set when the page navigated.
	URL *string `json:"url,omitempty"`

	// Globals contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Globals map[string]any `json:"globals,omitempty"`
}

// Diff calculates the difference between prev and next.
// If prev is nil, it returns a diff representing the entire next checkpoint.
// Returns nil when nothing observable changed.
func Diff(prev, next *Checkpoint) *CheckpointDiff {
	if next == nil {
		return nil
	}

	diff := &CheckpointDiff{}

	if prev == nil || !samePlayhead(prev.Playhead, next.Playhead) {
		if next.Playhead != nil {
			p := *next.Playhead
			diff.Playhead = &p
		} else if prev != nil {
			diff.Playhead = &Cursor{}
		}
	}
	if prev == nil || prev.Status != next.Status {
		if next.Status != "" {
			s := next.Status
			diff.Status = &s
		}
	}
	if prev == nil || prev.ContextID != next.ContextID {
		if prev != nil || next.ContextID != "" {
			c := next.ContextID
			diff.ContextID = &c
		}
	}
	if prev == nil || prev.URL != next.URL {
		if prev != nil || next.URL != "" {
			u := next.URL
			diff.URL = &u
		}
	}

	var prevGlobals map[string]any
	if prev != nil {
		prevGlobals = prev.Globals
	}
	diff.Globals = DiffGlobals(prevGlobals, next.Globals)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// DiffGlobals returns added or modified keys of next and deleted keys of prev (as nil).
func DiffGlobals(prev, next map[string]any) map[string]any {
	delta := make(map[string]any)

	for k, v := range next {
		old, exists := prev[k]
		if !exists || !reflect.DeepEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range prev {
		if _, exists := next[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

func samePlayhead(a, b *Cursor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ActionID == b.ActionID
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *CheckpointDiff) IsEmpty() bool {
	return d.Playhead == nil &&
		d.Status == nil &&
		d.ContextID == nil &&
		d.URL == nil &&
		len(d.Globals) == 0
}
