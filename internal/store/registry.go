package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/markface/internal/model"
)

var (
	// ErrNotFound is returned for an unknown record id
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when saving a record id twice; records are immutable
	ErrExists = errors.New("record already exists")
)

// Summary is the listing view of a stored record
type Summary struct {
	ID                 string                `json:"id"`
	CreatedAt          time.Time             `json:"created_at"`
	Policy             model.InsertionPolicy `json:"insertion_policy"`
	TargetLabel        model.Label           `json:"target_label"`
	Probes             int                   `json:"probes"`
	Threshold          float64               `json:"threshold"`
	TriggerSuccessRate float64               `json:"trigger_success_rate"`
}

// Registry is the local sqlite store of ownership records and verification history
type Registry struct {
	db   *sql.DB
	path string
}

// OpenRegistry opens or creates the registry at path
func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// The registry holds trigger sets, so it is owner-only like record files
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	r := &Registry{db: db, path: path}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

// Close closes the database connection
func (r *Registry) Close() error {
	return r.db.Close()
}

// Path returns the database file path
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) initSchema() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		insertion_policy TEXT NOT NULL,
		target_label INTEGER NOT NULL,
		probes INTEGER NOT NULL,
		threshold REAL NOT NULL,
		trigger_success_rate REAL NOT NULL,
		record_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at);

	CREATE TABLE IF NOT EXISTS verifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		candidate TEXT NOT NULL,
		verified_at DATETIME NOT NULL,
		is_stolen INTEGER NOT NULL,
		trigger_success_rate REAL NOT NULL,
		verdict_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verifications_record ON verifications(record_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Save stores a new record
func (r *Registry) Save(ctx context.Context, rec *model.OwnershipRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records (id, version, created_at, insertion_policy, target_label, probes, threshold, trigger_success_rate, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Version, rec.CreatedAt.UTC(), string(rec.Policy), int(rec.TargetLabel),
		len(rec.Probes), rec.Threshold, rec.Stats.TriggerSuccessRate, string(data))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %s", ErrExists, rec.ID)
		}
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get loads a record by id
func (r *Registry) Get(ctx context.Context, id string) (*model.OwnershipRecord, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT record_json FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return DecodeRecord([]byte(data), false)
}

// List returns all records, newest first
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, insertion_policy, target_label, probes, threshold, trigger_success_rate
		FROM records ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var policy string
		var target int
		if err := rows.Scan(&s.ID, &s.CreatedAt, &policy, &target, &s.Probes, &s.Threshold, &s.TriggerSuccessRate); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		s.Policy = model.InsertionPolicy(policy)
		s.TargetLabel = model.Label(target)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a record and its verification history
func (r *Registry) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM verifications WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return tx.Commit()
}

// AddVerification appends a verdict to the record's audit history
func (r *Registry) AddVerification(ctx context.Context, v *model.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verifications (record_id, candidate, verified_at, is_stolen, trigger_success_rate, verdict_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.Detail.RecordID, v.Detail.Candidate, v.Detail.VerifiedAt.UTC(), v.IsStolen, v.TriggerSuccessRate, string(data))
	if err != nil {
		return fmt.Errorf("failed to save verdict: %w", err)
	}
	return nil
}

// Verifications returns the verdict history of a record, oldest first
func (r *Registry) Verifications(ctx context.Context, recordID string) ([]model.Verdict, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT verdict_json FROM verifications WHERE record_id = ? ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	var out []model.Verdict
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v model.Verdict
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to decode verdict: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
