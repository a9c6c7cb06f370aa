//go:build !ratls

package attestation

import "crypto/x509"

// RATLSAvailable reports whether RA-TLS certificate verification is compiled in.
func RATLSAvailable() bool { return false }

// hardwareVerifyCert without `-tags ratls` never produces hardware proof, so
// TLS-only collections classify as partial.
func hardwareVerifyCert(_ *x509.Certificate) (bool, error) {
	return false, nil
}
