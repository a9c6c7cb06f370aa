package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// absentMarker stands in for a missing field in the canonical serialization.
// It is not valid hex, so absence can never collide with a real measurement.
const absentMarker = "!absent"

const (
	bindingVersion   = "1.0"
	bindingAlgorithm = "sha256"
)

func fieldValue(f Field) string {
	if !f.Present {
		return absentMarker
	}
	return strings.ToLower(f.Value)
}

// Digest canonicalizes the measurement set into a deterministic byte sequence
// (fixed field order, explicit absent markers) and hashes it.
func (m MeasurementSet) Digest() string {
	lines := []string{
		"mrtd=" + fieldValue(m.MRTD),
		"rtmr0=" + fieldValue(m.RTMR0),
		"rtmr1=" + fieldValue(m.RTMR1),
		"rtmr2=" + fieldValue(m.RTMR2),
		"rtmr3=" + fieldValue(m.RTMR3),
		"tee_tcb_svn=" + fieldValue(m.TeeTCBSVN),
		"report_data=" + fieldValue(m.ReportData),
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func stringOrAbsent(v string) string {
	if v == "" {
		return absentMarker
	}
	return v
}

// Digest canonicalizes the service attestation. Transient error text is
// deliberately excluded: two collections that observed the same service state
// digest identically regardless of how a failed attempt failed.
func (s ServiceAttestation) Digest() string {
	lines := []string{
		"endpoint=" + stringOrAbsent(s.Endpoint),
		"tls_fingerprint=" + stringOrAbsent(s.TLSFingerprint),
		"tls_version=" + stringOrAbsent(s.TLSVersion),
		"cipher_suite=" + stringOrAbsent(s.CipherSuite),
		"cert_subject=" + stringOrAbsent(s.Certificate.Subject),
		"cert_issuer=" + stringOrAbsent(s.Certificate.Issuer),
		"cert_not_before=" + canonicalTime(s.Certificate.NotBefore),
		"cert_not_after=" + canonicalTime(s.Certificate.NotAfter),
		"attestation_raw=" + stringOrAbsent(s.AttestationRaw),
		"outcome=" + string(s.Outcome),
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return absentMarker
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Bind combines the two per-side digests and a timestamp in a fixed order:
//
//	sha256(enclaveDigest ":" serviceDigest ":" RFC3339Nano(ts))
//
// Recomputation over identical inputs is byte-identical.
func Bind(enclaveDigest, serviceDigest string, ts time.Time) Binding {
	combined := enclaveDigest + ":" + serviceDigest + ":" + ts.UTC().Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(combined))
	return Binding{
		Version:     bindingVersion,
		Algorithm:   bindingAlgorithm,
		EnclaveHash: enclaveDigest,
		ServiceHash: serviceDigest,
		Combined:    hex.EncodeToString(sum[:]),
		Timestamp:   ts.UTC(),
	}
}
