package syncd

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = errors.New("not found")

// ErrSyncDisabled is returned when a report arrives for a machine that was
// not deployed with hardware sync enabled.
var ErrSyncDisabled = errors.New("hardware sync not enabled for machine")

// Store persists machines, their hardware inventory, accepted reports, and
// global settings. The reconciler serializes writes per machine; stores only
// need each individual call to be atomic.
type Store interface {
	UpsertMachineByMAC(ctx context.Context, m Machine) (Machine, error)
	GetMachine(ctx context.Context, id uuid.UUID) (Machine, error)
	UpdateMachine(ctx context.Context, m Machine) error

	ListDevices(ctx context.Context, machineID uuid.UUID) ([]Device, error)
	ReplaceDevices(ctx context.Context, machineID uuid.UUID, class DeviceClass, devices []Device) error
	DeleteVirtualDevices(ctx context.Context, machineID uuid.UUID) error

	InsertReport(ctx context.Context, rec ReportRecord) error

	GetSetting(ctx context.Context, name string) (string, error)
	PutSetting(ctx context.Context, name, value string) error
}
