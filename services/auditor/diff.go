package auditor

import (
	"reflect"
	"sort"
)

// deviceClassKeys are the snapshot keys holding device lists; they are diffed
// by device name rather than as opaque values.
var deviceClassKeys = []string{"disks", "interfaces", "pci_devices", "usb_devices"}

// computeDiff describes how current departs from previous. Device classes
// produce added/removed/changed name lists; every other key (bmc, tags)
// produces an old/new pair. An empty map means the snapshots are equivalent.
func computeDiff(previous, current map[string]any) map[string]any {
	if previous == nil {
		previous = map[string]any{}
	}
	if current == nil {
		current = map[string]any{}
	}

	diff := make(map[string]any)

	classKey := map[string]bool{}
	for _, key := range deviceClassKeys {
		classKey[key] = true
		if d := diffDevices(deviceList(previous[key]), deviceList(current[key])); d != nil {
			diff[key] = d
		}
	}

	for key, prevVal := range previous {
		if classKey[key] {
			continue
		}
		curVal, ok := current[key]
		if !ok {
			diff[key] = map[string]any{"old": prevVal, "new": nil}
			continue
		}
		if !reflect.DeepEqual(prevVal, curVal) {
			diff[key] = map[string]any{"old": prevVal, "new": curVal}
		}
	}

	for key, curVal := range current {
		if classKey[key] {
			continue
		}
		if _, seen := previous[key]; seen {
			continue
		}
		diff[key] = map[string]any{"old": nil, "new": curVal}
	}

	return diff
}

// deviceList normalizes a snapshot device array into name keyed entries.
func deviceList(v any) map[string]any {
	entries, ok := v.([]any)
	if !ok {
		return map[string]any{}
	}

	out := make(map[string]any, len(entries))
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, ok := entry["name"].(string)
		if !ok || name == "" {
			continue
		}
		out[name] = entry
	}
	return out
}

func diffDevices(previous, current map[string]any) map[string]any {
	var added, removed, changed []string

	for name, curEntry := range current {
		prevEntry, ok := previous[name]
		if !ok {
			added = append(added, name)
			continue
		}
		if !reflect.DeepEqual(prevEntry, curEntry) {
			changed = append(changed, name)
		}
	}
	for name := range previous {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(changed) == 0 {
		return nil
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)

	out := map[string]any{}
	if len(added) > 0 {
		out["added"] = added
	}
	if len(removed) > 0 {
		out["removed"] = removed
	}
	if len(changed) > 0 {
		out["changed"] = changed
	}
	return out
}
