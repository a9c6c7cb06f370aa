//go:build !linux

package agent

// Harden is a no-op outside Linux. Production deployments run in a Linux
// confidential VM where the real hardening applies.
func Harden() error {
	return nil
}
