package birthcert

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
)

// SchemaVersion is bumped whenever the serialized record layout changes.
const SchemaVersion = 1

// Certificate is the agent's birth certificate: an immutable record binding
// the credential's identity to the trust state observed at the moment the
// credential was created. It stores a one-way hash of the credential, never
// the credential itself.
//
// Lifecycle: created exactly once at first credential issuance, persisted
// before the credential is used, read-only forever after.
type Certificate struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	AgentName     string    `json:"agent_name"`

	// CredentialHash is the SHA-256 hex digest of the issued credential.
	CredentialHash string `json:"credential_hash"`

	// CodeMeasurement is the enclave register covering the deployed
	// application bundle (RTMR3: root filesystem + compose file), captured at
	// birth. Empty when the agent was not running inside a confidential VM
	// at issuance time.
	CodeMeasurement string `json:"code_measurement,omitempty"`

	// Snapshot is the full attestation view at birth, including its tier.
	Snapshot attestation.View `json:"snapshot"`

	// BindingDigest covers the ordered field list
	// {credential hash, code measurement, snapshot tier, creation timestamp}
	// and detects any later tampering with the stored record.
	BindingDigest string `json:"binding_digest"`
}

// bindingDigest computes the certificate's tamper-evidence digest over an
// explicit, named, ordered field list. Absence uses a marker that is not
// valid hex so a missing measurement can never collide with a real one.
func bindingDigest(credentialHash, codeMeasurement string, tier attestation.Tier, createdAt time.Time) string {
	if codeMeasurement == "" {
		codeMeasurement = "!absent"
	}
	lines := []string{
		"credential_hash=" + credentialHash,
		"code_measurement=" + codeMeasurement,
		"snapshot_tier=" + string(tier),
		"created_at=" + createdAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
