package syncd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"metald/pkg/timespan"
)

// Publisher emits events for downstream consumers. *bus.Bus satisfies it; a
// nil Publisher disables publishing.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Reconciler ingests hardware reports from deployed machines and keeps the
// per-machine sync schedule and inventory current.
//
// Reports for different machines are processed fully concurrently; updates to
// a single machine are serialized through a per-machine lock so last_sync,
// the derived next_sync, and the inventory always move together.
type Reconciler struct {
	store  Store
	pub    Publisher
	logger *log.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewReconciler creates a Reconciler bound to the provided store. pub and
// logger may be nil.
func NewReconciler(store Store, pub Publisher, logger *log.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = log.New(logDiscard{}, "", 0)
	}

	return &Reconciler{
		store:  store,
		pub:    pub,
		logger: logger,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

// lockMachine returns the mutex guarding a single machine's record. Entries
// are never evicted; the map is bounded by fleet size.
func (r *Reconciler) lockMachine(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Enroll registers a machine by MAC, or refreshes its identity fields when
// it is already known.
func (r *Reconciler) Enroll(ctx context.Context, m Machine) (Machine, error) {
	now := time.Now().UTC()
	m.Status = StatusReady
	m.CreatedAt = now
	m.UpdatedAt = now

	enrolled, err := r.store.UpsertMachineByMAC(ctx, m)
	if err != nil {
		return Machine{}, err
	}

	r.publish(ctx, TopicMachineEnrolled, MachineEvent{
		MachineID: enrolled.ID,
		MAC:       enrolled.MAC,
		Status:    enrolled.Status,
	})
	return enrolled, nil
}

// ConfigureSync marks a machine for hardware sync at deploy time and
// captures its interval. intervalSeconds overrides the global default when
// positive; otherwise globalDefault (a compact time span such as "15m") is
// parsed leniently, falling back to 15 minutes for malformed values. The
// captured interval is immutable for the life of the deployment.
func (r *Reconciler) ConfigureSync(ctx context.Context, machineID uuid.UUID, intervalSeconds int, globalDefault string) (Machine, error) {
	lock := r.lockMachine(machineID)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.GetMachine(ctx, machineID)
	if err != nil {
		return Machine{}, err
	}

	if m.Status != StatusReady && m.Status != StatusDeploying {
		return Machine{}, fmt.Errorf("machine %s is %s; sync can only be configured before deployment", machineID, m.Status)
	}

	captured := intervalSeconds
	if captured <= 0 {
		captured = timespan.Seconds(timespan.ParseLenient(globalDefault))
	}

	m.EnableHWSync = true
	m.SyncInterval = &captured
	m.LastSync = nil
	m.Status = StatusDeployed
	m.UpdatedAt = time.Now().UTC()

	if err := r.store.UpdateMachine(ctx, m); err != nil {
		return Machine{}, err
	}

	r.publish(ctx, TopicMachineDeployed, MachineEvent{
		MachineID: m.ID,
		MAC:       m.MAC,
		Status:    m.Status,
	})

	r.logger.Printf("INFO machine %s deployed with hardware sync every %ds", m.ID, captured)
	return m, nil
}

// Deploy transitions a machine to deployed without enabling sync.
func (r *Reconciler) Deploy(ctx context.Context, machineID uuid.UUID) (Machine, error) {
	lock := r.lockMachine(machineID)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.GetMachine(ctx, machineID)
	if err != nil {
		return Machine{}, err
	}
	if m.Status != StatusReady && m.Status != StatusDeploying {
		return Machine{}, fmt.Errorf("machine %s is %s; expected ready", machineID, m.Status)
	}

	m.Status = StatusDeployed
	m.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateMachine(ctx, m); err != nil {
		return Machine{}, err
	}

	r.publish(ctx, TopicMachineDeployed, MachineEvent{
		MachineID: m.ID,
		MAC:       m.MAC,
		Status:    m.Status,
	})
	return m, nil
}

// IngestReport merges an authenticated hardware report into the machine's
// record: each device class present fully replaces the stored class, BMC
// attributes and tags are overwritten, and last_sync advances to submittedAt.
// The caller has already verified the submitter is the claimed machine.
func (r *Reconciler) IngestReport(ctx context.Context, machineID uuid.UUID, report Report, submittedAt time.Time) (Machine, error) {
	lock := r.lockMachine(machineID)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.GetMachine(ctx, machineID)
	if err != nil {
		return Machine{}, err
	}
	if !m.EnableHWSync {
		reportsRejected.Inc()
		return Machine{}, ErrSyncDisabled
	}

	for _, class := range DeviceClasses {
		entries := report.byClass()[class]
		devices := make([]Device, 0, len(entries))
		for _, e := range entries {
			prov := ProvenancePhysical
			if e.Virtual {
				prov = ProvenanceVirtual
			}
			devices = append(devices, Device{
				ID:         uuid.New(),
				MachineID:  machineID,
				Class:      class,
				Name:       e.Name,
				Provenance: prov,
				Attrs:      e.Attrs,
				CreatedAt:  submittedAt,
			})
		}
		if err := r.store.ReplaceDevices(ctx, machineID, class, devices); err != nil {
			return Machine{}, fmt.Errorf("replace %s devices: %w", class, err)
		}
	}

	rec := ReportRecord{
		ID:          uuid.New(),
		MachineID:   machineID,
		Snapshot:    report.snapshot(),
		SubmittedAt: submittedAt,
	}
	if err := r.store.InsertReport(ctx, rec); err != nil {
		return Machine{}, fmt.Errorf("insert report: %w", err)
	}

	// The machine row is written last so last_sync never becomes visible
	// ahead of the inventory it describes.
	if len(report.BMC) > 0 {
		m.BMC = report.BMC
	}
	if report.Tags != nil {
		m.Tags = report.Tags
	}
	submitted := submittedAt
	m.LastSync = &submitted
	m.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateMachine(ctx, m); err != nil {
		return Machine{}, err
	}

	reportsAccepted.Inc()
	r.publish(ctx, TopicSyncReport, ReportEvent{
		ReportID:    rec.ID,
		MachineID:   machineID,
		Snapshot:    rec.Snapshot,
		SubmittedAt: rec.SubmittedAt,
	})

	return m, nil
}

// ApplyRelease clears a machine's sync state at the end of a deployment.
// Physical inventory persists into the next cycle; entries marked virtual at
// ingestion are dropped.
func (r *Reconciler) ApplyRelease(ctx context.Context, machineID uuid.UUID) (Machine, error) {
	lock := r.lockMachine(machineID)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.GetMachine(ctx, machineID)
	if err != nil {
		return Machine{}, err
	}

	if err := r.store.DeleteVirtualDevices(ctx, machineID); err != nil {
		return Machine{}, fmt.Errorf("drop virtual devices: %w", err)
	}

	m.Status = StatusReady
	m.EnableHWSync = false
	m.SyncInterval = nil
	m.LastSync = nil
	m.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateMachine(ctx, m); err != nil {
		return Machine{}, err
	}

	machinesReleased.Inc()
	r.publish(ctx, TopicMachineReleased, MachineEvent{
		MachineID: m.ID,
		MAC:       m.MAC,
		Status:    m.Status,
	})

	r.logger.Printf("INFO machine %s released", m.ID)
	return m, nil
}

func (r *Reconciler) publish(ctx context.Context, subj string, v any) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(ctx, subj, v); err != nil {
		r.logger.Printf("WARN publish %s: %v", subj, err)
	}
}
