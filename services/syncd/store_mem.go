package syncd

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and single-binary dev mode.
type MemStore struct {
	mu       sync.RWMutex
	machines map[uuid.UUID]Machine
	byMAC    map[string]uuid.UUID
	devices  map[uuid.UUID][]Device
	reports  []ReportRecord
	settings map[string]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		machines: make(map[uuid.UUID]Machine),
		byMAC:    make(map[string]uuid.UUID),
		devices:  make(map[uuid.UUID][]Device),
		settings: make(map[string]string),
	}
}

func (s *MemStore) UpsertMachineByMAC(ctx context.Context, m Machine) (Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mac := strings.ToLower(m.MAC)
	if id, ok := s.byMAC[mac]; ok {
		existing := s.machines[id]
		existing.Hostname = m.Hostname
		existing.Architecture = m.Architecture
		existing.UpdatedAt = m.UpdatedAt
		s.machines[id] = existing
		return existing, nil
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.MAC = mac
	s.machines[m.ID] = m
	s.byMAC[mac] = m.ID
	return m, nil
}

func (s *MemStore) GetMachine(ctx context.Context, id uuid.UUID) (Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.machines[id]
	if !ok {
		return Machine{}, ErrNotFound
	}
	return m, nil
}

func (s *MemStore) UpdateMachine(ctx context.Context, m Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.machines[m.ID]; !ok {
		return ErrNotFound
	}
	s.machines[m.ID] = m
	return nil
}

func (s *MemStore) ListDevices(ctx context.Context, machineID uuid.UUID) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.devices[machineID]
	out := make([]Device, len(devices))
	copy(out, devices)
	return out, nil
}

func (s *MemStore) ReplaceDevices(ctx context.Context, machineID uuid.UUID, class DeviceClass, devices []Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Device, 0, len(s.devices[machineID])+len(devices))
	for _, d := range s.devices[machineID] {
		if d.Class != class {
			kept = append(kept, d)
		}
	}
	kept = append(kept, devices...)
	s.devices[machineID] = kept
	return nil
}

func (s *MemStore) DeleteVirtualDevices(ctx context.Context, machineID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.devices[machineID][:0]
	for _, d := range s.devices[machineID] {
		if d.Provenance != ProvenanceVirtual {
			kept = append(kept, d)
		}
	}
	s.devices[machineID] = kept
	return nil
}

func (s *MemStore) InsertReport(ctx context.Context, rec ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, rec)
	return nil
}

// Reports returns all stored reports in insertion order.
func (s *MemStore) Reports() []ReportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ReportRecord, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *MemStore) GetSetting(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemStore) PutSetting(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[name] = value
	return nil
}
