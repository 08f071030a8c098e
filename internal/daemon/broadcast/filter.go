package broadcast

import (
	"github.com/grovetools/relay/internal/daemon/registry"
	"github.com/grovetools/relay/internal/daemon/store"
)

// filterPatch keeps only the diff entries the session's field filters accept.
func filterPatch(patch store.Patch, prefs *registry.Preferences) store.Patch {
	if len(prefs.FieldFilters) == 0 {
		return patch
	}
	out := make(store.Patch, len(patch))
	for path, value := range patch {
		if prefs.WantsField(path) {
			out[path] = value
		}
	}
	return out
}

// filterSnapshot applies field filters to a full snapshot by flattening it
// to dotted leaf paths, filtering those, and rebuilding the nested form.
func filterSnapshot(fields map[string]any, prefs *registry.Preferences) map[string]any {
	if len(prefs.FieldFilters) == 0 {
		return fields
	}
	flat := make(store.Patch)
	flatten("", fields, flat)

	kept := make(store.Patch, len(flat))
	for path, value := range flat {
		if prefs.WantsField(path) {
			kept[path] = value
		}
	}

	out := make(map[string]any)
	store.ApplyPatchTo(out, kept)
	return out
}

func flatten(prefix string, node map[string]any, out store.Patch) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			flatten(path, m, out)
		} else {
			out[path] = v
		}
	}
}
