// Package store provides the versioned in-memory workspace state store.
package store

import (
	"sort"
	"strings"
)

// Patch is a set of field changes keyed by dotted path (e.g. "editor.activeFile").
// A nil value deletes the field. Patches compose: applying patch A then patch B
// yields the same state as applying A.Merge(B).
type Patch map[string]any

// Merge folds other into p, later changes winning, and returns p.
// A nil receiver allocates a new patch.
//
// Paths are hierarchical, so merging is path-aware: a write or delete of a
// path supersedes earlier changes beneath it, and a change beneath an
// already-recorded path folds into that record's value. The merged patch
// therefore never contains overlapping paths, which keeps its application
// order-independent.
func (p Patch) Merge(other Patch) Patch {
	if p == nil {
		p = make(Patch, len(other))
	}
	for _, path := range other.sortedPaths() {
		p.record(path, other[path])
	}
	return p
}

// record adds one field change on top of the changes already in p.
func (p Patch) record(path string, value any) {
	// This change supersedes anything previously recorded beneath it.
	prefix := path + "."
	for existing := range p {
		if strings.HasPrefix(existing, prefix) {
			delete(p, existing)
		}
	}

	// A change beneath an already-recorded ancestor folds into its value.
	for anc := parentPath(path); anc != ""; anc = parentPath(anc) {
		prev, ok := p[anc]
		if !ok {
			continue
		}
		fields, isMap := prev.(map[string]any)
		if !isMap {
			// The ancestor was deleted or overwritten with a non-object;
			// a delete beneath it changes nothing.
			if value == nil {
				return
			}
			fields = nil
		}
		merged := deepCopyMap(fields)
		applyField(merged, strings.Split(path[len(anc)+1:], "."), value)
		p[anc] = merged
		return
	}

	p[path] = value
}

// sortedPaths returns the patch's paths in lexicographic order, which puts
// every parent before its children.
func (p Patch) sortedPaths() []string {
	paths := make([]string, 0, len(p))
	for path := range p {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func parentPath(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}

// Clone returns a shallow copy of the patch.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Snapshot is an immutable copy of the workspace state at a specific version.
type Snapshot struct {
	Fields  map[string]any `json:"fields"`
	Version uint64         `json:"version"`
}

// Change is the payload of a committed mutation, carried on the event bus.
type Change struct {
	Version uint64 `json:"version"`
	Patch   Patch  `json:"patch"`
}
