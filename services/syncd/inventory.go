package syncd

import (
	"time"

	"github.com/google/uuid"
)

// DeviceClass partitions the hardware inventory. Each accepted report fully
// replaces the machine's devices of the classes it carries.
type DeviceClass string

const (
	ClassDisk      DeviceClass = "disk"
	ClassInterface DeviceClass = "interface"
	ClassPCI       DeviceClass = "pci"
	ClassUSB       DeviceClass = "usb"
)

// DeviceClasses lists every inventory class in replace order.
var DeviceClasses = []DeviceClass{ClassDisk, ClassInterface, ClassPCI, ClassUSB}

// Provenance records whether an inventory entry describes physical hardware
// or a virtual device (an SR-IOV function, a bond, a tunnel interface). It is
// assigned once, at ingestion, so release-time filtering is a predicate over
// the stored marker rather than a re-derivation.
type Provenance string

const (
	ProvenancePhysical Provenance = "physical"
	ProvenanceVirtual  Provenance = "virtual"
)

// Device is one stored hardware-inventory entry.
type Device struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	MachineID  uuid.UUID      `json:"machine_id" db:"machine_id"`
	Class      DeviceClass    `json:"class" db:"class"`
	Name       string         `json:"name" db:"name"`
	Provenance Provenance     `json:"provenance" db:"provenance"`
	Attrs      map[string]any `json:"attrs,omitempty" db:"attrs"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// ReportDevice is one device as submitted by the agent. Virtual marks
// entries that must not survive a release.
type ReportDevice struct {
	Name    string         `json:"name"`
	Virtual bool           `json:"virtual,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Report is the hardware snapshot pushed by a deployed machine's agent.
// Authentication of the submitter happens at the transport boundary; by the
// time a Report reaches the reconciler it is trusted.
type Report struct {
	Disks      []ReportDevice `json:"disks"`
	Interfaces []ReportDevice `json:"interfaces"`
	PCIDevices []ReportDevice `json:"pci_devices"`
	USBDevices []ReportDevice `json:"usb_devices"`
	BMC        map[string]any `json:"bmc,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// ReportRecord is the persisted form of an accepted report, kept so the
// auditor can diff consecutive snapshots.
type ReportRecord struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	MachineID   uuid.UUID      `json:"machine_id" db:"machine_id"`
	Snapshot    map[string]any `json:"snapshot" db:"snapshot"`
	SubmittedAt time.Time      `json:"submitted_at" db:"submitted_at"`
}

func (r Report) byClass() map[DeviceClass][]ReportDevice {
	return map[DeviceClass][]ReportDevice{
		ClassDisk:      r.Disks,
		ClassInterface: r.Interfaces,
		ClassPCI:       r.PCIDevices,
		ClassUSB:       r.USBDevices,
	}
}

// snapshot flattens the report into the JSON shape stored on the report
// record and published on the bus.
func (r Report) snapshot() map[string]any {
	devices := func(entries []ReportDevice) []any {
		out := make([]any, 0, len(entries))
		for _, d := range entries {
			entry := map[string]any{"name": d.Name}
			if d.Virtual {
				entry["virtual"] = true
			}
			if len(d.Attrs) > 0 {
				entry["attrs"] = d.Attrs
			}
			out = append(out, entry)
		}
		return out
	}

	snap := map[string]any{
		"disks":       devices(r.Disks),
		"interfaces":  devices(r.Interfaces),
		"pci_devices": devices(r.PCIDevices),
		"usb_devices": devices(r.USBDevices),
	}
	if len(r.BMC) > 0 {
		snap["bmc"] = r.BMC
	}
	if len(r.Tags) > 0 {
		tags := make([]any, 0, len(r.Tags))
		for _, t := range r.Tags {
			tags = append(tags, t)
		}
		snap["tags"] = tags
	}
	return snap
}
