package syncd

import (
	"time"

	"github.com/google/uuid"
)

// Machine models a provisionable host tracked by the sync reconciler.
//
// SyncInterval is captured in whole seconds at deploy time and never changes
// for the life of a deployment; the global default only applies to machines
// deployed after it is updated. LastSync is stamped on each accepted report.
// NextSync and sync health are derived at read time, never stored.
type Machine struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	MAC          string         `json:"mac" db:"mac"`
	Hostname     string         `json:"hostname" db:"hostname"`
	Architecture string         `json:"architecture" db:"architecture"`
	Status       string         `json:"status" db:"status"`
	EnableHWSync bool           `json:"enable_hw_sync" db:"enable_hw_sync"`
	SyncInterval *int           `json:"sync_interval,omitempty" db:"sync_interval"`
	LastSync     *time.Time     `json:"last_sync,omitempty" db:"last_sync"`
	BMC          map[string]any `json:"bmc,omitempty" db:"bmc"`
	Tags         []string       `json:"tags,omitempty" db:"tags"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Deployment statuses. Sync can only be enabled on a machine that is ready,
// and reports are only accepted while it is deployed.
const (
	StatusReady     = "ready"
	StatusDeploying = "deploying"
	StatusDeployed  = "deployed"
	StatusReleasing = "releasing"
)

// Sync status labels derived from the machine record and the clock.
const (
	SyncStateUnconfigured = "unconfigured"
	SyncStateConfigured   = "configured"
	SyncStateHealthy      = "healthy"
	SyncStateUnhealthy    = "unhealthy"
)

// machineView is the read-interface shape: the stored record plus the
// derived sync fields and the current inventory.
type machineView struct {
	Machine
	NextSync      *time.Time `json:"next_sync,omitempty"`
	IsSyncHealthy *bool      `json:"is_sync_healthy,omitempty"`
	SyncStatus    string     `json:"sync_status"`
	Devices       []Device   `json:"devices,omitempty"`
}

func newMachineView(m Machine, devices []Device, now time.Time) machineView {
	return machineView{
		Machine:       m,
		NextSync:      NextSync(m),
		IsSyncHealthy: ComputeHealth(m, now),
		SyncStatus:    SyncState(m, now),
		Devices:       devices,
	}
}
