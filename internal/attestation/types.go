package attestation

import (
	"context"
	"time"
)

// measurementHexLen is the hex length of one TDX measurement register
// (48-byte SHA-384 output).
const measurementHexLen = 96

// Field is a single named measurement. Absence is explicit: an environment
// that cannot produce a register reports Present=false rather than an empty
// or zero value, so absence can never silently match anything.
type Field struct {
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

func present(v string) Field { return Field{Value: v, Present: v != ""} }

// MeasurementSet carries the layered boot measurements of the confidential VM.
//
//	MRTD   firmware
//	RTMR0  VM configuration
//	RTMR1  Linux kernel
//	RTMR2  application layer
//	RTMR3  root filesystem + compose file
type MeasurementSet struct {
	MRTD       Field `json:"mrtd"`
	RTMR0      Field `json:"rtmr0"`
	RTMR1      Field `json:"rtmr1"`
	RTMR2      Field `json:"rtmr2"`
	RTMR3      Field `json:"rtmr3"`
	TeeTCBSVN  Field `json:"tee_tcb_svn"`
	ReportData Field `json:"report_data"`
}

// AbsentMeasurementSet is what an enclave collector returns when no
// confidential-computing environment is present: every field explicitly
// absent, so downstream classification still runs.
func AbsentMeasurementSet() MeasurementSet {
	return MeasurementSet{}
}

// FullyPresent reports whether every boot-chain register is present. The
// security-version and report-data fields are informational and do not gate
// presence.
func (m MeasurementSet) FullyPresent() bool {
	return m.MRTD.Present && m.RTMR0.Present && m.RTMR1.Present &&
		m.RTMR2.Present && m.RTMR3.Present
}

// AnyPresent reports whether at least one register was produced.
func (m MeasurementSet) AnyPresent() bool {
	return m.MRTD.Present || m.RTMR0.Present || m.RTMR1.Present ||
		m.RTMR2.Present || m.RTMR3.Present
}

// Outcome is the remote-service verification result. Partial means the TLS
// channel was authenticated but no hardware-level proof of the remote enclave
// was obtainable.
type Outcome string

const (
	OutcomeVerified   Outcome = "verified"
	OutcomePartial    Outcome = "partial"
	OutcomeUnverified Outcome = "unverified"
)

// CertificateInfo is the subset of the remote TLS leaf certificate captured
// for display and digesting.
type CertificateInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
}

// ServiceAttestation is the remote inference side of the trust chain.
type ServiceAttestation struct {
	Endpoint       string          `json:"endpoint"`
	TLSFingerprint string          `json:"tls_fingerprint,omitempty"`
	TLSVersion     string          `json:"tls_version,omitempty"`
	CipherSuite    string          `json:"cipher_suite,omitempty"`
	Certificate    CertificateInfo `json:"certificate_info"`
	AttestationRaw string          `json:"attestation_raw,omitempty"`
	HardwareProof  bool            `json:"hardware_proof"`
	Outcome        Outcome         `json:"outcome"`
	Note           string          `json:"note,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// EnclaveSource produces the local enclave measurements. Implementations:
// VMCollector (SecretVM attestation server over HTTP) and DstackCollector
// (dstack guest agent socket).
type EnclaveSource interface {
	Collect(ctx context.Context) (MeasurementSet, error)
}

// ServiceSource produces the remote-service attestation.
type ServiceSource interface {
	Collect(ctx context.Context, endpoint string) (ServiceAttestation, error)
}

// Binding proves the two attestations were evaluated together at one instant.
// Recomputing over the same inputs and timestamp is byte-identical.
type Binding struct {
	Version     string    `json:"version"`
	Algorithm   string    `json:"algorithm"`
	EnclaveHash string    `json:"enclave_hash"`
	ServiceHash string    `json:"service_hash"`
	Combined    string    `json:"combined_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// View is the live attestation view: a pure on-demand computation with no
// retained state. Callers always receive copies, never shared references.
type View struct {
	Enclave        MeasurementSet     `json:"enclave"`
	EnclaveError   string             `json:"enclave_error,omitempty"`
	Service        ServiceAttestation `json:"service"`
	Binding        Binding            `json:"binding"`
	Classification Classification     `json:"classification"`
	FullyVerified  bool               `json:"fully_verified"`
	CollectedAt    time.Time          `json:"collected_at"`
}

// EnclaveDigest is the digest of the enclave-side measurements embedded in
// the binding.
func (v View) EnclaveDigest() string { return v.Binding.EnclaveHash }
