/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"sort"
)

// Registry is an immutable table of named throttling profiles.
// It is built once at process start and is read-only afterwards,
// so it may be shared between goroutines without synchronization.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a Registry from the passed profiles.
// It fails fast on any invalid profile, duplicate name, or duplicate key prefix
// (the latter would make buckets of different profiles collide in the store).
func NewRegistry(profiles ...Profile) (*Registry, error) {
	byName := make(map[string]Profile, len(profiles))
	seenPrefixes := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := byName[p.Name]; ok {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		if otherName, ok := seenPrefixes[p.KeyPrefix]; ok {
			return nil, fmt.Errorf("profiles %q and %q use the same key prefix %q", otherName, p.Name, p.KeyPrefix)
		}
		byName[p.Name] = p
		seenPrefixes[p.KeyPrefix] = p.Name
	}
	return &Registry{profiles: byName}, nil
}

// MustNewRegistry is a version of NewRegistry that panics if an error occurs.
func MustNewRegistry(profiles ...Profile) *Registry {
	r, err := NewRegistry(profiles...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the profile registered under the passed name.
func (r *Registry) Lookup(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown rate limit profile %q", name)
	}
	return p, nil
}

// Names returns the sorted names of all registered profiles.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
