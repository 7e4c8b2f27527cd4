package archiver

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	gos3 "metald/pkg/s3"
)

func testSigner(t *testing.T) (*Signer, *age.X25519Identity) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	signer, err := NewSigner(identity.String())
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer, identity
}

func testEvent() reportEvent {
	return reportEvent{
		ReportID:  uuid.New(),
		MachineID: uuid.New(),
		Snapshot: map[string]any{
			"disks": []any{map[string]any{"name": "sda"}},
		},
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildArchivePlain(t *testing.T) {
	signer, _ := testSigner(t)
	evt := testEvent()

	payload, manifestBytes, err := buildArchive(evt, signer, false)
	if err != nil {
		t.Fatalf("buildArchive: %v", err)
	}

	decoder, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()
	raw, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if _, ok := snapshot["disks"]; !ok {
		t.Fatalf("snapshot = %v, missing disks", snapshot)
	}

	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if manifest.MachineID != evt.MachineID.String() {
		t.Fatalf("machine_id = %s, want %s", manifest.MachineID, evt.MachineID)
	}
	if manifest.Encrypted {
		t.Fatal("manifest claims encryption for a plain archive")
	}
	if manifest.PayloadSHA256 != gos3.SHA256Hex(payload) {
		t.Fatal("manifest digest does not match payload")
	}
	if err := VerifyManifest(manifest); err != nil {
		t.Fatalf("VerifyManifest: %v", err)
	}
}

func TestBuildArchiveTamperedManifestFailsVerify(t *testing.T) {
	signer, _ := testSigner(t)

	_, manifestBytes, err := buildArchive(testEvent(), signer, false)
	if err != nil {
		t.Fatalf("buildArchive: %v", err)
	}
	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	manifest.PayloadSHA256 = gos3.SHA256Hex([]byte("forged"))
	if err := VerifyManifest(manifest); err == nil {
		t.Fatal("expected verification failure for tampered manifest")
	}
}

func TestBuildArchiveEncrypted(t *testing.T) {
	signer, identity := testSigner(t)
	evt := testEvent()

	payload, manifestBytes, err := buildArchive(evt, signer, true)
	if err != nil {
		t.Fatalf("buildArchive: %v", err)
	}

	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if !manifest.Encrypted {
		t.Fatal("manifest must record encryption")
	}

	opened, err := age.Decrypt(bytes.NewReader(payload), identity)
	if err != nil {
		t.Fatalf("age decrypt: %v", err)
	}
	decoder, err := zstd.NewReader(opened)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if _, ok := snapshot["disks"]; !ok {
		t.Fatalf("snapshot = %v, missing disks", snapshot)
	}
}
