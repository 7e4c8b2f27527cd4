package archiver

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata stored alongside each archived report.
type Manifest struct {
	Version          string    `yaml:"version"`
	MachineID        string    `yaml:"machine_id"`
	ReportID         string    `yaml:"report_id"`
	SubmittedAt      time.Time `yaml:"submitted_at"`
	Encrypted        bool      `yaml:"encrypted"`
	PayloadSHA256    string    `yaml:"payload_sha256"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
}

// SigningBytes marshals the manifest without its signature for
// signing and verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// Marshal serialises the complete manifest.
func (m Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// ParseManifest deserialises a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// VerifyManifest checks the manifest signature against its embedded public
// key.
func VerifyManifest(m Manifest) error {
	payload, err := m.SigningBytes()
	if err != nil {
		return err
	}
	return Verify(payload, m.Signature, m.SigningPublicKey)
}
