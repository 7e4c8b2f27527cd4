// Package archiver consumes accepted hardware reports off the bus and writes
// each one to object storage as a compressed, signed archive. The archives
// are the long-term record; the reports table only keeps what the auditor
// needs for diffing.
package archiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"metald/pkg/bus"
	gos3 "metald/pkg/s3"
)

const reportSubject = "metald.sync.report"

type reportEvent struct {
	ReportID    uuid.UUID      `json:"report_id"`
	MachineID   uuid.UUID      `json:"machine_id"`
	Snapshot    map[string]any `json:"snapshot"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Config configures an Archiver.
type Config struct {
	Bucket string

	// Encrypt wraps each archive in age encryption to the signer's
	// recipient before upload.
	Encrypt bool
}

// Archiver subscribes to report events and uploads archives to S3.
type Archiver struct {
	s3     *gos3.Client
	bus    *bus.Bus
	signer *Signer
	config Config

	subMu sync.Mutex
	sub   io.Closer
}

// New constructs an Archiver for the provided dependencies.
func New(s3Client *gos3.Client, eventBus *bus.Bus, signer *Signer, cfg Config) (*Archiver, error) {
	if s3Client == nil {
		return nil, errors.New("s3 client is required")
	}
	if eventBus == nil {
		return nil, errors.New("bus is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{s3: s3Client, bus: eventBus, signer: signer, config: cfg}, nil
}

// Start subscribes to report events and processes them until ctx is cancelled.
func (a *Archiver) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("nil archiver")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	handler := func(msgCtx context.Context, data []byte) error {
		return a.handleReport(msgCtx, data)
	}

	sub, err := a.bus.Subscribe(ctx, reportSubject, "archiver-reports", handler)
	if err != nil {
		return err
	}

	a.subMu.Lock()
	a.sub = sub
	a.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (a *Archiver) Close() error {
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

func (a *Archiver) handleReport(ctx context.Context, data []byte) error {
	var evt reportEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.ReportID == uuid.Nil || evt.MachineID == uuid.Nil {
		return errors.New("report event missing identifiers")
	}
	if evt.SubmittedAt.IsZero() {
		evt.SubmittedAt = time.Now().UTC()
	}

	archive, manifest, err := buildArchive(evt, a.signer, a.config.Encrypt)
	if err != nil {
		return err
	}

	base := archiveKey(evt)
	payloadKey := base + payloadSuffix(a.config.Encrypt)
	if err := a.s3.PutObject(ctx, a.config.Bucket, payloadKey, bytes.NewReader(archive), int64(len(archive)), gos3.SHA256Hex(archive)); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	if err := a.s3.PutObject(ctx, a.config.Bucket, base+".manifest.yaml", bytes.NewReader(manifest), int64(len(manifest)), gos3.SHA256Hex(manifest)); err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}

	return nil
}

func archiveKey(evt reportEvent) string {
	return fmt.Sprintf("archives/%s/%s-%s",
		evt.MachineID, evt.SubmittedAt.UTC().Format("20060102T150405Z"), evt.ReportID)
}

func payloadSuffix(encrypted bool) string {
	if encrypted {
		return ".json.zst.age"
	}
	return ".json.zst"
}

// buildArchive produces the compressed (and optionally encrypted) snapshot
// payload together with its signed manifest.
func buildArchive(evt reportEvent, signer *Signer, encrypt bool) (payload, manifest []byte, err error) {
	raw, err := json.Marshal(evt.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := encoder.Write(raw); err != nil {
		encoder.Close()
		return nil, nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, nil, err
	}

	payload = compressed.Bytes()
	if encrypt {
		recipient := signer.Recipient()
		if recipient == nil {
			return nil, nil, errors.New("encryption requested but signer has no recipient")
		}
		var sealed bytes.Buffer
		w, err := age.Encrypt(&sealed, recipient)
		if err != nil {
			return nil, nil, fmt.Errorf("age encrypt: %w", err)
		}
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, nil, err
		}
		if err := w.Close(); err != nil {
			return nil, nil, err
		}
		payload = sealed.Bytes()
	}

	m := Manifest{
		Version:          "1",
		MachineID:        evt.MachineID.String(),
		ReportID:         evt.ReportID.String(),
		SubmittedAt:      evt.SubmittedAt.UTC(),
		Encrypted:        encrypt,
		PayloadSHA256:    gos3.SHA256Hex(payload),
		SigningPublicKey: signer.PublicKeyBase64(),
	}
	signingBytes, err := m.SigningBytes()
	if err != nil {
		return nil, nil, err
	}
	m.Signature, err = signer.Sign(signingBytes)
	if err != nil {
		return nil, nil, err
	}

	manifest, err = m.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return payload, manifest, nil
}
