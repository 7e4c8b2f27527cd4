package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticInventory describes hardware the kernel cannot enumerate, pinned by
// the operator in a YAML file. Typical use is the BMC address and rack tags.
type StaticInventory struct {
	Disks      []StaticDevice `yaml:"disks"`
	Interfaces []StaticDevice `yaml:"interfaces"`
	PCIDevices []StaticDevice `yaml:"pci_devices"`
	USBDevices []StaticDevice `yaml:"usb_devices"`
	BMC        map[string]any `yaml:"bmc"`
	Tags       []string       `yaml:"tags"`
}

// StaticDevice is one operator-pinned inventory entry.
type StaticDevice struct {
	Name    string         `yaml:"name"`
	Virtual bool           `yaml:"virtual"`
	Attrs   map[string]any `yaml:"attrs"`
}

// LoadStatic parses the static inventory file at path.
func LoadStatic(path string) (StaticInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StaticInventory{}, err
	}

	var inv StaticInventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return StaticInventory{}, fmt.Errorf("parse static inventory: %w", err)
	}
	return inv, nil
}

// MergeStatic overlays operator-pinned inventory onto a collected report.
// Static entries win on name collision so an operator can correct what the
// kernel reports; tags are unioned and BMC attributes merged key by key.
func MergeStatic(report Report, static StaticInventory) Report {
	report.Disks = mergeDevices(report.Disks, static.Disks)
	report.Interfaces = mergeDevices(report.Interfaces, static.Interfaces)
	report.PCIDevices = mergeDevices(report.PCIDevices, static.PCIDevices)
	report.USBDevices = mergeDevices(report.USBDevices, static.USBDevices)

	if len(static.BMC) > 0 {
		if report.BMC == nil {
			report.BMC = map[string]any{}
		}
		for k, v := range static.BMC {
			report.BMC[k] = v
		}
	}

	seen := map[string]bool{}
	for _, t := range report.Tags {
		seen[t] = true
	}
	for _, t := range static.Tags {
		if !seen[t] {
			report.Tags = append(report.Tags, t)
			seen[t] = true
		}
	}

	return report
}

func mergeDevices(collected []Device, static []StaticDevice) []Device {
	if len(static) == 0 {
		return collected
	}

	byName := map[string]int{}
	for i, d := range collected {
		byName[d.Name] = i
	}

	for _, s := range static {
		d := Device{Name: s.Name, Virtual: s.Virtual, Attrs: s.Attrs}
		if i, ok := byName[s.Name]; ok {
			collected[i] = d
			continue
		}
		collected = append(collected, d)
	}
	return collected
}
