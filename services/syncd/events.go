package syncd

import (
	"time"

	"github.com/google/uuid"
)

// JetStream subjects published by the reconciler.
const (
	TopicMachineEnrolled = "metald.machines.enrolled"
	TopicMachineDeployed = "metald.machines.deployed"
	TopicMachineReleased = "metald.machines.released"
	TopicSyncReport      = "metald.sync.report"
)

// MachineEvent announces a machine lifecycle transition.
type MachineEvent struct {
	MachineID uuid.UUID `json:"machine_id"`
	MAC       string    `json:"mac"`
	Status    string    `json:"status"`
}

// ReportEvent carries an accepted hardware report to the auditor and
// archiver.
type ReportEvent struct {
	ReportID    uuid.UUID      `json:"report_id"`
	MachineID   uuid.UUID      `json:"machine_id"`
	Snapshot    map[string]any `json:"snapshot"`
	SubmittedAt time.Time      `json:"submitted_at"`
}
