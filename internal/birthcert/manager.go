package birthcert

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/attestation"
	"github.com/MrGarbonzo/secret-moltbot/internal/crypto"
	"github.com/MrGarbonzo/secret-moltbot/internal/logx"
)

var (
	// ErrAlreadyExists: attempted double birth. One birth per credential
	// lifetime; re-issuing a credential requires an explicit rotation flow.
	ErrAlreadyExists = errors.New("birth certificate already exists")

	// ErrNotFound is the expected state before the agent has registered.
	ErrNotFound = errors.New("birth certificate not found")

	// ErrCorruptRecord means the stored record fails its own binding digest:
	// a fatal trust failure, surfaced verbatim, never downgraded.
	ErrCorruptRecord = errors.New("birth certificate record is corrupt")
)

// RecordStore is the durable key-value capability the manager needs:
// an atomic write-if-absent and a plain read, keyed by agent identity.
// memory.Store satisfies it.
type RecordStore interface {
	PutCertificateIfAbsent(agentName string, record []byte) (bool, error)
	GetCertificate(agentName string) ([]byte, error)
}

// CodeChanged reports whether the code measurement moved since birth.
type CodeChanged string

const (
	CodeUnchanged         CodeChanged = "false"
	CodeChangedSinceBirth CodeChanged = "true"
	CodeChangeUnknowable  CodeChanged = "not_applicable"
)

// VerifyResult is the outcome of comparing a fresh attestation view against
// the stored record. A changed measurement is reported as a fact, not
// auto-rejected: legitimate upgrades also change the measurement, so policy
// belongs to the caller.
type VerifyResult struct {
	Certificate        Certificate `json:"certificate"`
	CodeChanged        CodeChanged `json:"code_changed_since_birth"`
	BirthMeasurement   string      `json:"birth_measurement,omitempty"`
	CurrentMeasurement string      `json:"current_measurement,omitempty"`
}

// Manager exclusively owns the on-disk birth-certificate record. Everything
// else receives copies.
type Manager struct {
	store     RecordStore
	agentName string
	now       func() time.Time
}

func NewManager(store RecordStore, agentName string) *Manager {
	return &Manager{store: store, agentName: agentName, now: time.Now}
}

// Create snapshots the attestation view and the credential's one-way hash
// into a new certificate and persists it atomically. The record is fully
// computed in memory before any write, so a cancelled collection can never
// leave a partial record. Fails with ErrAlreadyExists if a record exists,
// leaving the existing record untouched.
func (m *Manager) Create(credential string, view attestation.View) (*Certificate, error) {
	if credential == "" {
		return nil, fmt.Errorf("refusing to certify an empty credential")
	}

	createdAt := m.now().UTC()
	cert := Certificate{
		SchemaVersion:  SchemaVersion,
		CreatedAt:      createdAt,
		AgentName:      m.agentName,
		CredentialHash: crypto.HashCredential(credential),
		Snapshot:       view,
	}
	if view.Enclave.RTMR3.Present {
		cert.CodeMeasurement = view.Enclave.RTMR3.Value
	}
	cert.BindingDigest = bindingDigest(cert.CredentialHash, cert.CodeMeasurement, view.Classification.Tier, createdAt)

	payload, err := json.Marshal(cert)
	if err != nil {
		return nil, fmt.Errorf("serialize birth certificate: %w", err)
	}

	inserted, err := m.store.PutCertificateIfAbsent(m.agentName, payload)
	if err != nil {
		return nil, fmt.Errorf("persist birth certificate: %w", err)
	}
	if !inserted {
		return nil, ErrAlreadyExists
	}

	logx.Infof("birth certificate created agent=%s tier=%s code_measured=%v",
		m.agentName, view.Classification.Tier, cert.CodeMeasurement != "")
	return &cert, nil
}

// load reads and integrity-checks the stored record.
func (m *Manager) load() (*Certificate, error) {
	payload, err := m.store.GetCertificate(m.agentName)
	if err != nil {
		return nil, fmt.Errorf("read birth certificate: %w", err)
	}
	if payload == nil {
		return nil, ErrNotFound
	}

	var cert Certificate
	if err := json.Unmarshal(payload, &cert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	want := bindingDigest(cert.CredentialHash, cert.CodeMeasurement, cert.Snapshot.Classification.Tier, cert.CreatedAt)
	if cert.BindingDigest != want {
		return nil, fmt.Errorf("%w: binding digest mismatch", ErrCorruptRecord)
	}
	return &cert, nil
}

// Verify loads the stored record, checks its integrity, and compares its
// birth code measurement against the current attestation view.
//
//	ErrNotFound       no record yet (expected pre-registration state)
//	ErrCorruptRecord  the stored record fails its binding digest — fatal
func (m *Manager) Verify(current attestation.View) (*VerifyResult, error) {
	cert, err := m.load()
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{
		Certificate:      *cert,
		BirthMeasurement: cert.CodeMeasurement,
	}
	if current.Enclave.RTMR3.Present {
		res.CurrentMeasurement = current.Enclave.RTMR3.Value
	}

	switch {
	case cert.CodeMeasurement == "":
		// Not born inside the enclave: nothing to compare against.
		res.CodeChanged = CodeChangeUnknowable
	case res.CurrentMeasurement == cert.CodeMeasurement:
		res.CodeChanged = CodeUnchanged
	default:
		res.CodeChanged = CodeChangedSinceBirth
		logx.Warnf("code measurement changed since birth agent=%s birth=%s current=%s",
			m.agentName, cert.CodeMeasurement, res.CurrentMeasurement)
	}

	return res, nil
}

// Certificate returns a copy of the stored record after integrity checking,
// without comparing against a live view.
func (m *Manager) Certificate() (*Certificate, error) {
	return m.load()
}
