package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	content := `
interfaces:
  - name: eno1
    attrs:
      mac: "aa:bb:cc:dd:ee:ff"
bmc:
  address: 10.0.0.9
  vendor: generic-ipmi
tags:
  - rack:r12
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}

	inv, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}
	if len(inv.Interfaces) != 1 || inv.Interfaces[0].Name != "eno1" {
		t.Fatalf("interfaces = %+v", inv.Interfaces)
	}
	if inv.BMC["vendor"] != "generic-ipmi" {
		t.Fatalf("bmc = %+v", inv.BMC)
	}
	if len(inv.Tags) != 1 || inv.Tags[0] != "rack:r12" {
		t.Fatalf("tags = %+v", inv.Tags)
	}
}

func TestLoadStaticRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}
	if _, err := LoadStatic(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMergeStatic(t *testing.T) {
	collected := Report{
		Interfaces: []Device{
			{Name: "eno1", Attrs: map[string]any{"mac": "aa:aa:aa:aa:aa:aa"}},
			{Name: "eno2"},
		},
		Tags: []string{"arch:x86_64"},
	}
	static := StaticInventory{
		Interfaces: []StaticDevice{
			// Operator correction wins over the collected entry.
			{Name: "eno1", Attrs: map[string]any{"mac": "bb:bb:bb:bb:bb:bb"}},
			{Name: "ib0", Attrs: map[string]any{"fabric": "infiniband"}},
		},
		BMC:  map[string]any{"address": "10.0.0.9"},
		Tags: []string{"rack:r12", "arch:x86_64"},
	}

	merged := MergeStatic(collected, static)

	if len(merged.Interfaces) != 3 {
		t.Fatalf("interfaces = %d, want 3", len(merged.Interfaces))
	}
	if merged.Interfaces[0].Attrs["mac"] != "bb:bb:bb:bb:bb:bb" {
		t.Fatalf("eno1 mac = %v, want static override", merged.Interfaces[0].Attrs["mac"])
	}
	if merged.Interfaces[2].Name != "ib0" {
		t.Fatalf("appended device = %+v, want ib0", merged.Interfaces[2])
	}
	if merged.BMC["address"] != "10.0.0.9" {
		t.Fatalf("bmc = %+v", merged.BMC)
	}
	if len(merged.Tags) != 2 {
		t.Fatalf("tags = %v, want union without duplicates", merged.Tags)
	}
}
