package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PidRecord is the durable source of truth for what is currently serving on
// this host. It survives orchestrator restarts.
type PidRecord struct {
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Version    string    `json:"version"`
	State      string    `json:"state"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RecordStore reads and writes the PidRecord file. Writes go to a temp file in
// the same directory followed by a rename, so readers never observe a partial
// record.
type RecordStore struct {
	Path string
}

func NewRecordStore(path string) *RecordStore {
	return &RecordStore{Path: path}
}

// Read returns the current record, or (nil, nil) when no record exists.
func (s *RecordStore) Read() (*PidRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pid record %s: %w", s.Path, err)
	}
	var rec PidRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse pid record %s: %w", s.Path, err)
	}
	return &rec, nil
}

// Write atomically replaces the record file.
func (s *RecordStore) Write(rec *PidRecord) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create pid record dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp pid record: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(rec); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode pid record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync pid record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close pid record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace pid record %s: %w", s.Path, err)
	}
	return nil
}

// Remove deletes the record file. Removing an absent record is a no-op.
func (s *RecordStore) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid record %s: %w", s.Path, err)
	}
	return nil
}
