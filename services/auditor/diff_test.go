package auditor

import (
	"reflect"
	"testing"
)

func TestComputeDiffIdenticalSnapshots(t *testing.T) {
	snapshot := map[string]any{
		"disks": []any{
			map[string]any{"name": "sda", "attrs": map[string]any{"size_bytes": float64(480)}},
		},
		"tags": []any{"rack:r12"},
	}

	if diff := computeDiff(snapshot, snapshot); len(diff) != 0 {
		t.Fatalf("diff = %v, want empty for identical snapshots", diff)
	}
}

func TestComputeDiffDeviceChanges(t *testing.T) {
	previous := map[string]any{
		"disks": []any{
			map[string]any{"name": "sda"},
			map[string]any{"name": "sdb"},
		},
		"interfaces": []any{
			map[string]any{"name": "eno1", "attrs": map[string]any{"speed_mbps": float64(1000)}},
		},
	}
	current := map[string]any{
		"disks": []any{
			map[string]any{"name": "sda"},
			map[string]any{"name": "nvme0n1"},
		},
		"interfaces": []any{
			map[string]any{"name": "eno1", "attrs": map[string]any{"speed_mbps": float64(10000)}},
		},
	}

	diff := computeDiff(previous, current)

	disks, ok := diff["disks"].(map[string]any)
	if !ok {
		t.Fatalf("missing disks diff: %v", diff)
	}
	if !reflect.DeepEqual(disks["added"], []string{"nvme0n1"}) {
		t.Fatalf("added = %v", disks["added"])
	}
	if !reflect.DeepEqual(disks["removed"], []string{"sdb"}) {
		t.Fatalf("removed = %v", disks["removed"])
	}

	ifaces, ok := diff["interfaces"].(map[string]any)
	if !ok {
		t.Fatalf("missing interfaces diff: %v", diff)
	}
	if !reflect.DeepEqual(ifaces["changed"], []string{"eno1"}) {
		t.Fatalf("changed = %v", ifaces["changed"])
	}
}

func TestComputeDiffScalarKeys(t *testing.T) {
	previous := map[string]any{
		"bmc":  map[string]any{"address": "10.0.0.9"},
		"tags": []any{"rack:r12"},
	}
	current := map[string]any{
		"bmc": map[string]any{"address": "10.0.0.10"},
	}

	diff := computeDiff(previous, current)

	bmc, ok := diff["bmc"].(map[string]any)
	if !ok {
		t.Fatalf("missing bmc diff: %v", diff)
	}
	if got := bmc["new"].(map[string]any)["address"]; got != "10.0.0.10" {
		t.Fatalf("bmc new = %v", got)
	}

	tags, ok := diff["tags"].(map[string]any)
	if !ok {
		t.Fatalf("missing tags diff: %v", diff)
	}
	if tags["new"] != nil {
		t.Fatalf("tags new = %v, want nil for removed key", tags["new"])
	}
}

func TestComputeDiffFirstReport(t *testing.T) {
	current := map[string]any{
		"disks": []any{map[string]any{"name": "sda"}},
	}

	diff := computeDiff(nil, current)

	disks, ok := diff["disks"].(map[string]any)
	if !ok {
		t.Fatalf("missing disks diff: %v", diff)
	}
	if !reflect.DeepEqual(disks["added"], []string{"sda"}) {
		t.Fatalf("added = %v", disks["added"])
	}
}
