// Package audit implements a command-audit trail: an operational log of
// every send() call and its outcome, kept in sqlite (modernc.org/sqlite,
// a pure-Go driver, same as the engine codebase's pkg/persistence/sqlite).
// This is explicitly NOT device-state persistence — device state is never
// persisted across restarts; this is a dead-letter/operational trail for
// diagnosing failed commands, not a cache the registry rehydrates from.
package audit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one logged command attempt.
type Record struct {
	ID        string
	CCID      uint16
	Command   string
	Outcome   string // "sent", "success", "timeout", "error"
	Detail    string
	CreatedAt time.Time
}

// Outcome values for Record.Outcome. AuditingSender writes success, timeout
// and error; it does not write OutcomeSent.
const (
	OutcomeSent    = "sent"
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Log is a sqlite-backed append-only audit trail.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	l := &Log{db: db}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS command_audit (
		id TEXT PRIMARY KEY,
		ccid INTEGER NOT NULL,
		command TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_command_audit_ccid ON command_audit(ccid);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record appends one audit entry.
func (l *Log) Record(ccid uint16, command, outcome, detail string) error {
	_, err := l.db.Exec(
		`INSERT INTO command_audit (id, ccid, command, outcome, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ccid, command, outcome, detail, time.Now().UTC(),
	)
	return err
}

// Recent returns the most recent n audit records, newest first — used by
// the optional REST diagnostics endpoint.
func (l *Log) Recent(n int) ([]Record, error) {
	rows, err := l.db.Query(
		`SELECT id, ccid, command, outcome, detail, created_at FROM command_audit ORDER BY created_at DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CCID, &r.Command, &r.Outcome, &r.Detail, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
