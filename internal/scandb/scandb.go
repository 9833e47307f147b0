// Package scandb records bench sessions in a SQLite database: the scans
// that ran, the commands issued against the device, and the outcome of
// artefact verifications. The schema is managed with versioned migrations.
package scandb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Scan lifecycle states recorded in the scans table.
const (
	ScanStateConfigured = "CONFIGURED"
	ScanStateScanning   = "SCANNING"
	ScanStateComplete   = "COMPLETE"
	ScanStateAborted    = "ABORTED"
)

// Store is a session database handle.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the session database at path and applies any
// pending migrations. Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	store := &Store{db}
	if err := store.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Session is one bench run.
type Session struct {
	ID        string
	StartedAt time.Time
}

// StartSession creates a new session and returns its identifier.
func (s *Store) StartSession() (Session, error) {
	session := Session{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	_, err := s.Exec(
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`,
		session.ID, session.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return session, nil
}

// RecordScan records a configured scan and its configuration JSON.
func (s *Store) RecordScan(sessionID string, scanID uint64, ebID string, config []byte) error {
	_, err := s.Exec(
		`INSERT INTO scans (session_id, scan_id, eb_id, config, state) VALUES (?, ?, ?, ?, ?)`,
		sessionID, scanID, ebID, string(config), ScanStateConfigured,
	)
	if err != nil {
		return fmt.Errorf("record scan %d: %w", scanID, err)
	}
	return nil
}

// UpdateScanState moves a scan to a new lifecycle state.
func (s *Store) UpdateScanState(sessionID string, scanID uint64, state string) error {
	res, err := s.Exec(
		`UPDATE scans SET state = ? WHERE session_id = ? AND scan_id = ?`,
		state, sessionID, scanID,
	)
	if err != nil {
		return fmt.Errorf("update scan %d state: %w", scanID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scan %d not found in session %s", scanID, sessionID)
	}
	return nil
}

// RecordCommand records a device command and its result. scanID is 0 for
// commands outside a scan.
func (s *Store) RecordCommand(sessionID string, scanID uint64, command, result string, duration time.Duration) error {
	var scan any
	if scanID != 0 {
		scan = scanID
	}
	_, err := s.Exec(
		`INSERT INTO commands (session_id, scan_id, command, result, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		sessionID, scan, command, result, duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record command %s: %w", command, err)
	}
	return nil
}

// RecordVerification records the outcome of one artefact check for a scan.
func (s *Store) RecordVerification(sessionID string, scanID uint64, check string, passed bool, detail string) error {
	_, err := s.Exec(
		`INSERT INTO verifications (session_id, scan_id, check_name, passed, detail) VALUES (?, ?, ?, ?, ?)`,
		sessionID, scanID, check, passed, detail,
	)
	if err != nil {
		return fmt.Errorf("record verification %s for scan %d: %w", check, scanID, err)
	}
	return nil
}

// ScanRecord is one recorded scan.
type ScanRecord struct {
	ScanID uint64
	EbID   string
	Config string
	State  string
}

// Scans returns the scans of a session, oldest first.
func (s *Store) Scans(sessionID string) ([]ScanRecord, error) {
	rows, err := s.Query(
		`SELECT scan_id, eb_id, config, state FROM scans WHERE session_id = ? ORDER BY created_at, scan_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var scans []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		if err := rows.Scan(&rec.ScanID, &rec.EbID, &rec.Config, &rec.State); err != nil {
			return nil, err
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

// Verification is one recorded artefact check.
type Verification struct {
	ScanID    uint64
	CheckName string
	Passed    bool
	Detail    string
}

// FailedVerifications returns every failed check of a session.
func (s *Store) FailedVerifications(sessionID string) ([]Verification, error) {
	rows, err := s.Query(
		`SELECT scan_id, check_name, passed, detail FROM verifications
		 WHERE session_id = ? AND passed = 0 ORDER BY verification_seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var failed []Verification
	for rows.Next() {
		var v Verification
		var detail sql.NullString
		if err := rows.Scan(&v.ScanID, &v.CheckName, &v.Passed, &detail); err != nil {
			return nil, err
		}
		v.Detail = detail.String
		failed = append(failed, v)
	}
	return failed, rows.Err()
}

// Summary aggregates what happened in a session.
type Summary struct {
	SessionID           string
	NumScans            int
	NumCommands         int
	NumVerifications    int
	FailedVerifications int
}

// Summary returns the aggregate counts of a session.
func (s *Store) Summary(sessionID string) (Summary, error) {
	summary := Summary{SessionID: sessionID}

	var exists int
	err := s.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return Summary{}, fmt.Errorf("query session: %w", err)
	}
	if exists == 0 {
		return Summary{}, fmt.Errorf("session %s not found", sessionID)
	}

	row := s.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM scans WHERE session_id = ?),
			(SELECT COUNT(*) FROM commands WHERE session_id = ?),
			(SELECT COUNT(*) FROM verifications WHERE session_id = ?),
			(SELECT COUNT(*) FROM verifications WHERE session_id = ? AND passed = 0)`,
		sessionID, sessionID, sessionID, sessionID,
	)
	err = row.Scan(&summary.NumScans, &summary.NumCommands, &summary.NumVerifications, &summary.FailedVerifications)
	if err != nil {
		return Summary{}, fmt.Errorf("query session summary: %w", err)
	}
	return summary, nil
}
