// Package extensions checks Script dependencies against installed extensions.
//
// Dependencies declare semver constraints ("^1.2.0", ">= 2, < 3", "1.x");
// installed extensions declare exact versions.
package extensions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/ports"
)

// Extension is an installed extension.
type Extension struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Resolver implements ports.ExtensionResolver over a set of installed extensions.
// Safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	installed map[string]*semver.Version
	raw       map[string]string
}

// NewResolver creates a resolver with the given extensions installed.
func NewResolver(exts ...Extension) (*Resolver, error) {
	r := &Resolver{installed: map[string]*semver.Version{}, raw: map[string]string{}}
	for _, e := range exts {
		if err := r.Install(e.Name, e.Version); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Install registers or upgrades an extension.
func (r *Resolver) Install(name, version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("extension %s: invalid version %q: %w", name, version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installed[name] = v
	r.raw[name] = version
	return nil
}

// Installed lists installed extensions sorted by name.
func (r *Resolver) Installed() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extension, 0, len(r.raw))
	for name, v := range r.raw {
		out = append(out, Extension{Name: name, Version: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Unmet returns the dependencies not satisfied by the installed extensions,
// in declaration order. A malformed constraint is an InvalidScript error.
func (r *Resolver) Unmet(ctx context.Context, deps []domain.Dependency) ([]domain.UnmetDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var unmet []domain.UnmetDependency
	for _, d := range deps {
		c, err := semver.NewConstraint(d.Version)
		if err != nil {
			return nil, domain.InvalidScript("dependencies/%s: invalid version range %q: %v", d.Name, d.Version, err)
		}
		v, ok := r.installed[d.Name]
		if !ok {
			unmet = append(unmet, domain.UnmetDependency{Name: d.Name, Version: d.Version})
			continue
		}
		if !c.Check(v) {
			existing := r.raw[d.Name]
			unmet = append(unmet, domain.UnmetDependency{Name: d.Name, Version: d.Version, ExistingVersion: &existing})
		}
	}
	return unmet, nil
}

var _ ports.ExtensionResolver = (*Resolver)(nil)
