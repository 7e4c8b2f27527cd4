//go:build linux

package agent

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Collect enumerates the machine's hardware from sysfs. Entries whose parent
// is a virtual bus (bonds, VLANs, SR-IOV functions, loop and device-mapper
// block devices) are marked virtual so the control plane can drop them when
// the machine is released.
func Collect() (Report, error) {
	var report Report

	report.Disks = collectDisks()
	report.Interfaces = collectInterfaces()
	report.PCIDevices = collectPCI()
	report.USBDevices = collectUSB()
	report.Tags = collectTags()

	return report, nil
}

func collectDisks() []Device {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return nil
	}

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		base := filepath.Join("/sys/block", name)

		// Block devices without a backing bus device (loop, dm, md, zram)
		// are virtual.
		_, err := os.Stat(filepath.Join(base, "device"))
		virtual := err != nil

		attrs := map[string]any{}
		if size := readSysfsInt(filepath.Join(base, "size")); size > 0 {
			attrs["size_bytes"] = size * 512
		}
		if model := readSysfs(filepath.Join(base, "device", "model")); model != "" {
			attrs["model"] = model
		}
		if serial := readSysfs(filepath.Join(base, "device", "serial")); serial != "" {
			attrs["serial"] = serial
		}
		if rotational := readSysfs(filepath.Join(base, "queue", "rotational")); rotational != "" {
			attrs["rotational"] = rotational == "1"
		}

		devices = append(devices, Device{Name: name, Virtual: virtual, Attrs: attrs})
	}
	return devices
}

func collectInterfaces() []Device {
	entries, err := os.ReadDir("/sys/class/net")
	if err != nil {
		return nil
	}

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "lo" {
			continue
		}
		base := filepath.Join("/sys/class/net", name)

		// Interfaces without a device symlink live under
		// /sys/devices/virtual/net: bonds, bridges, VLANs, tunnels.
		_, err := os.Stat(filepath.Join(base, "device"))
		virtual := err != nil

		attrs := map[string]any{}
		if mac := readSysfs(filepath.Join(base, "address")); mac != "" {
			attrs["mac"] = mac
		}
		if speed := readSysfsInt(filepath.Join(base, "speed")); speed > 0 {
			attrs["speed_mbps"] = speed
		}
		if !virtual {
			if _, err := os.Stat(filepath.Join(base, "device", "physfn")); err == nil {
				// SR-IOV virtual function backed by a physical NIC.
				virtual = true
			}
		}

		devices = append(devices, Device{Name: name, Virtual: virtual, Attrs: attrs})
	}
	return devices
}

func collectPCI() []Device {
	entries, err := os.ReadDir("/sys/bus/pci/devices")
	if err != nil {
		return nil
	}

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		addr := e.Name()
		base := filepath.Join("/sys/bus/pci/devices", addr)

		attrs := map[string]any{}
		if vendor := readSysfs(filepath.Join(base, "vendor")); vendor != "" {
			attrs["vendor_id"] = vendor
		}
		if device := readSysfs(filepath.Join(base, "device")); device != "" {
			attrs["device_id"] = device
		}
		if class := readSysfs(filepath.Join(base, "class")); class != "" {
			attrs["class"] = class
		}

		_, err := os.Stat(filepath.Join(base, "physfn"))
		devices = append(devices, Device{Name: addr, Virtual: err == nil, Attrs: attrs})
	}
	return devices
}

func collectUSB() []Device {
	entries, err := os.ReadDir("/sys/bus/usb/devices")
	if err != nil {
		return nil
	}

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		// Skip interface nodes (1-1:1.0); keep device nodes (1-1).
		if strings.Contains(name, ":") {
			continue
		}
		base := filepath.Join("/sys/bus/usb/devices", name)

		attrs := map[string]any{}
		if vendor := readSysfs(filepath.Join(base, "idVendor")); vendor != "" {
			attrs["vendor_id"] = vendor
		} else {
			continue
		}
		if product := readSysfs(filepath.Join(base, "idProduct")); product != "" {
			attrs["product_id"] = product
		}
		if product := readSysfs(filepath.Join(base, "product")); product != "" {
			attrs["product"] = product
		}

		devices = append(devices, Device{Name: name, Attrs: attrs})
	}
	return devices
}

// collectTags labels the report with the running kernel and architecture.
func collectTags() []string {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return nil
	}
	return []string{
		"kernel:" + unix.ByteSliceToString(uname.Release[:]),
		"arch:" + unix.ByteSliceToString(uname.Machine[:]),
	}
}

func readSysfs(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readSysfsInt(path string) int64 {
	raw := readSysfs(path)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
