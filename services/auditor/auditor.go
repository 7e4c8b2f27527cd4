// Package auditor consumes accepted hardware reports off the bus and records
// an audit entry describing what changed since the machine's previous report.
package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"metald/pkg/bus"
	"metald/pkg/db"
)

const (
	reportSubject = "metald.sync.report"
	auditActor    = "sync-agent"
	auditAction   = "hardware_report"
)

type reportEvent struct {
	ReportID    uuid.UUID      `json:"report_id"`
	MachineID   uuid.UUID      `json:"machine_id"`
	Snapshot    map[string]any `json:"snapshot"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Auditor subscribes to accepted reports and writes change audits. The report
// rows themselves are written by syncd before the event is published, so the
// auditor only reads them.
type Auditor struct {
	pool *pgxpool.Pool
	bus  *bus.Bus

	subMu sync.Mutex
	sub   io.Closer
}

// New constructs an Auditor for the provided dependencies.
func New(pool *pgxpool.Pool, bus *bus.Bus) (*Auditor, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	return &Auditor{pool: pool, bus: bus}, nil
}

// Start subscribes to report events and processes them until ctx is cancelled.
func (a *Auditor) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("nil auditor")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	handler := func(msgCtx context.Context, data []byte) error {
		return a.handleReport(msgCtx, data)
	}

	sub, err := a.bus.Subscribe(ctx, reportSubject, "auditor-reports", handler)
	if err != nil {
		return err
	}

	a.subMu.Lock()
	a.sub = sub
	a.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (a *Auditor) Close() error {
	if a == nil {
		return nil
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	if a.sub == nil {
		return nil
	}
	err := a.sub.Close()
	a.sub = nil
	return err
}

func (a *Auditor) handleReport(ctx context.Context, data []byte) error {
	var evt reportEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ReportID == uuid.Nil {
		return errors.New("report_id missing from event")
	}
	if evt.MachineID == uuid.Nil {
		return errors.New("machine_id missing from event")
	}
	if evt.Snapshot == nil {
		evt.Snapshot = map[string]any{}
	}

	previous, err := a.previousSnapshot(ctx, evt.MachineID, evt.ReportID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	diff := computeDiff(previous, evt.Snapshot)
	if len(diff) == 0 {
		return nil
	}

	return a.insertAudit(ctx, evt, diff)
}

func (a *Auditor) previousSnapshot(ctx context.Context, machineID, currentReportID uuid.UUID) (map[string]any, error) {
	var raw []byte
	err := db.Get(ctx, a.pool, &raw, `
SELECT snapshot
FROM reports
WHERE machine_id = $1 AND id <> $2
ORDER BY submitted_at DESC
LIMIT 1
`, machineID, currentReportID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (a *Auditor) insertAudit(ctx context.Context, evt reportEvent, diff map[string]any) error {
	details := map[string]any{
		"machine_id": evt.MachineID.String(),
		"report_id":  evt.ReportID.String(),
		"changes":    diff,
	}

	detailsBytes, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, a.pool, `
INSERT INTO audit (actor, action, obj, details)
VALUES ($1, $2, $3, $4::jsonb)
`, auditActor, auditAction, evt.MachineID.String(), detailsBytes)
	return err
}
