package memory

import (
	"database/sql"
	"errors"
	"fmt"
)

// PutCertificateIfAbsent atomically writes the serialized birth-certificate
// record keyed by agent name. Returns false without touching the existing row
// when a record already exists — the write-once guarantee holds across
// process restarts because it lives in the storage layer, not a process lock.
func (s *Store) PutCertificateIfAbsent(agentName string, record []byte) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO birth_certificates (agent_name, record) VALUES (?, ?)
		 ON CONFLICT(agent_name) DO NOTHING`,
		agentName, record,
	)
	if err != nil {
		return false, fmt.Errorf("insert birth certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetCertificate returns the stored record bytes, or nil when no certificate
// has been created yet.
func (s *Store) GetCertificate(agentName string) ([]byte, error) {
	var record []byte
	err := s.db.QueryRow(
		`SELECT record FROM birth_certificates WHERE agent_name = ?`, agentName,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get birth certificate: %w", err)
	}
	return record, nil
}
