// Package masker provides an io.Writer wrapper that redacts credential
// values from anything written through it. The agent routes its log output
// through a Masker as soon as a Moltbook credential exists, so the key can
// never leak into logs even by accident.
package masker

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

const placeholder = "[REDACTED]"

// Masker wraps an io.Writer and replaces any occurrence of registered
// secret values with [REDACTED]. Uses Aho-Corasick for multi-pattern
// matching and buffers across Write boundaries so a secret split over
// two writes is still caught.
type Masker struct {
	mu        sync.Mutex
	out       io.Writer
	matcher   aho.AhoCorasick
	secrets   []string
	maxSecret int
	buf       []byte
}

// New creates a Masker redacting the given secret values. Empty strings
// are ignored. Secrets can also be registered later with AddSecret.
func New(out io.Writer, secrets ...string) *Masker {
	m := &Masker{out: out}
	for _, s := range secrets {
		m.addLocked(s)
	}
	m.rebuildLocked()
	return m
}

// AddSecret registers an additional value to redact. Safe to call while
// the Masker is in use; subsequent writes see the new secret.
func (m *Masker) AddSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(s)
	m.rebuildLocked()
}

func (m *Masker) addLocked(s string) {
	if len(s) == 0 {
		return
	}
	for _, have := range m.secrets {
		if have == s {
			return
		}
	}
	m.secrets = append(m.secrets, s)
	if len(s) > m.maxSecret {
		m.maxSecret = len(s)
	}
}

func (m *Masker) rebuildLocked() {
	if len(m.secrets) == 0 {
		return
	}
	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	m.matcher = builder.Build(m.secrets)
}

// Write implements io.Writer. Data may be buffered to handle
// cross-boundary matches.
func (m *Masker) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.secrets) == 0 {
		return m.out.Write(p)
	}

	m.buf = append(m.buf, p...)
	if err := m.processLocked(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes any remaining buffered data, performing final masking.
func (m *Masker) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.secrets) == 0 {
		return nil
	}
	return m.processLocked(true)
}

func (m *Masker) processLocked(flushAll bool) error {
	if len(m.buf) == 0 {
		return nil
	}

	// Retain maxSecret-1 trailing bytes so a secret straddling the next
	// Write still matches, unless we are flushing everything.
	safeEnd := len(m.buf)
	if !flushAll {
		safeEnd = len(m.buf) - (m.maxSecret - 1)
		if safeEnd <= 0 {
			return nil
		}
	}

	// Search the whole buffer, not just the safe zone, so matches that
	// straddle the boundary are detected.
	matches := m.matcher.FindAll(string(m.buf))

	var result []byte
	pos := 0
	consumedEnd := safeEnd

	for _, match := range matches {
		start := match.Start()
		end := match.End()

		if start < pos {
			continue // overlapping match
		}
		if start >= safeEnd && !flushAll {
			break // stays buffered for the next write
		}

		result = append(result, m.buf[pos:start]...)
		result = append(result, placeholder...)
		pos = end

		if end > consumedEnd {
			consumedEnd = end
		}
	}

	if pos < safeEnd {
		result = append(result, m.buf[pos:safeEnd]...)
	}

	if len(result) > 0 {
		if _, err := m.out.Write(result); err != nil {
			return err
		}
	}

	remaining := make([]byte, len(m.buf)-consumedEnd)
	copy(remaining, m.buf[consumedEnd:])
	m.buf = remaining

	return nil
}
