package domain

import "time"

// Status is the final or current status of a Script run.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Cursor is the serializable playhead: the id of the Action executing next.
// Iteration counters live in ActionState, keyed by the same ids.
type Cursor struct {
	ActionID string `json:"actionId"`
}

// ActionState holds the non-serialized runtime fields of one Action.
// They are reset per run and captured by checkpoints.
type ActionState struct {
	Bypassed bool `json:"bypassed,omitempty"`
	Index    int  `json:"index,omitempty"`
	Attempts int  `json:"attempts,omitempty"`
}

// Cookie is a browser cookie as captured by checkpoints.
type Cookie struct {
	Name     string  `json:"name" yaml:"name"`
	Value    string  `json:"value" yaml:"value"`
	Domain   string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty" yaml:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty" yaml:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty" yaml:"secure,omitempty"`
}

// Checkpoint is a snapshot of resumable state.
type Checkpoint struct {
	ID          string                 `json:"id"`
	Label       string                 `json:"label,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	URL         string                 `json:"url,omitempty"`
	Cookies     []Cookie               `json:"cookies,omitempty"`
	Globals     map[string]any         `json:"globals,omitempty"`
	Playhead    *Cursor                `json:"playhead,omitempty"`
	ContextID   string                 `json:"contextId,omitempty"`
	ContextRuns map[string]int         `json:"contextRuns,omitempty"`
	Actions     map[string]ActionState `json:"actions,omitempty"`
	Status      Status                 `json:"status,omitempty"`
}

// Clone returns a deep-enough copy of the checkpoint for safe mutation by stores and middleware.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	next := *c
	next.Cookies = append([]Cookie(nil), c.Cookies...)
	next.Globals = CloneMap(c.Globals)
	if c.Playhead != nil {
		p := *c.Playhead
		next.Playhead = &p
	}
	if c.ContextRuns != nil {
		next.ContextRuns = make(map[string]int, len(c.ContextRuns))
		for k, v := range c.ContextRuns {
			next.ContextRuns[k] = v
		}
	}
	if c.Actions != nil {
		next.Actions = make(map[string]ActionState, len(c.Actions))
		for k, v := range c.Actions {
			next.Actions[k] = v
		}
	}
	return &next
}

// CloneMap deep-copies nested maps and slices of a JSON-like value map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies nested maps and slices of a JSON-like value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Dependency declares an extension a Script needs, with a semver range.
type Dependency struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// UnmetDependency reports a Dependency that the installed extensions do not satisfy.
// ExistingVersion is nil when the extension is not installed at all.
type UnmetDependency struct {
	Name            string  `json:"name"`
	Version         string  `json:"version"`
	ExistingVersion *string `json:"existingVersion"`
}
