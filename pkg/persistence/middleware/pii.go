package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
)

// Mask replaces sensitive values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware masks globals, at any depth, whose keys match one of the
// patterns, and cookie values whose names match. Masked checkpoints resume
// without those values.
func NewPIIMiddleware(patterns []string) (Middleware, error) {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %q: %w", p, err)
		}
		compiled[i] = re
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: compiled}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, cp *domain.Checkpoint) error {
	// Never touch the caller's copy.
	masked := cp.Clone()
	m.maskMap(masked.Globals)
	for i, c := range masked.Cookies {
		if m.matches(c.Name) {
			masked.Cookies[i].Value = Mask
		}
	}
	return m.next.Save(ctx, masked)
}

func (m *piiMiddleware) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	return m.next.Load(ctx, id)
}

func (m *piiMiddleware) Delete(ctx context.Context, id string) error {
	return m.next.Delete(ctx, id)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) maskMap(v map[string]any) {
	for k, val := range v {
		if m.matches(k) {
			v[k] = Mask
			continue
		}
		m.maskValue(val)
	}
}

func (m *piiMiddleware) maskValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		m.maskMap(t)
	case []any:
		for _, item := range t {
			m.maskValue(item)
		}
	}
}
