package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/docdispatch/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// Ensure Ledger implements the interface.
var _ driven.Ledger = (*Ledger)(nil)

// Ledger is the SQLite-backed document ledger.
type Ledger struct {
	db         *sql.DB
	path       string
	retryLimit int
}

// NewLedger opens (or creates) the ledger database at the specified
// data directory. If dataDir is empty, defaults to
// ~/.docdispatch/data/ledger.db. retryLimit is the number of retryable
// failures a document may absorb before FAILED.
func NewLedger(dataDir string, retryLimit int) (*Ledger, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".docdispatch", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ledger.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection keeps
	// transactions queued instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	l := &Ledger{
		db:         db,
		path:       dbPath,
		retryLimit: retryLimit,
	}

	// Run migrations
	if err := l.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// migrate runs all pending migrations.
func (l *Ledger) migrate(fsys embed.FS) error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := l.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := l.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// CreateOrGetByFingerprint creates a Document for a new fingerprint or
// appends provenance to the existing one. The fingerprint UNIQUE
// constraint arbitrates concurrent intake of the same bytes: exactly
// one caller inserts, everyone else appends provenance.
func (l *Ledger) CreateOrGetByFingerprint(ctx context.Context, rec driven.IntakeRecord) (*domain.Document, bool, error) {
	if rec.Fingerprint == "" {
		return nil, false, fmt.Errorf("%w: empty fingerprint", domain.ErrInvalidInput)
	}

	doc, isNew, err := l.createOrGet(ctx, rec)
	if err != nil && isUniqueViolation(err) {
		// Lost the insert race; the row exists now.
		doc, isNew, err = l.createOrGet(ctx, rec)
	}
	return doc, isNew, err
}

func (l *Ledger) createOrGet(ctx context.Context, rec driven.IntakeRecord) (*domain.Document, bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	var id string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE fingerprint = ?", string(rec.Fingerprint)).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		metadataJSON, merr := json.Marshal(rec.Provenance.Metadata)
		if merr != nil {
			return nil, false, fmt.Errorf("marshalling metadata: %w", merr)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents
				(id, fingerprint, source_channel, original_name, size_bytes,
				 received_at, detected_type, status, department, metadata,
				 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, string(rec.Fingerprint), string(rec.Provenance.Channel),
			rec.Provenance.OriginalName, rec.SizeBytes, rec.Provenance.ReceivedAt.UTC(),
			string(domain.TypeUnknown), string(domain.StatusReceived),
			string(domain.DeptUnclassified), string(metadataJSON), now, now)
		if err != nil {
			return nil, false, fmt.Errorf("inserting document: %w", err)
		}

		if err := appendHistory(ctx, tx, id, 1, domain.StatusReceived,
			string(rec.Provenance.Channel), "received: "+rec.Provenance.OriginalName, now); err != nil {
			return nil, false, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents_fts (doc_id, original_name, extracted_text)
			VALUES (?, ?, '')
		`, id, rec.Provenance.OriginalName)
		if err != nil {
			return nil, false, fmt.Errorf("indexing document: %w", err)
		}

		doc, err := getTx(ctx, tx, id)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing transaction: %w", err)
		}
		return doc, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("looking up fingerprint: %w", err)

	default:
		seq, err := nextSeq(ctx, tx, id)
		if err != nil {
			return nil, false, err
		}
		if err := appendHistory(ctx, tx, id, seq, currentStatus(ctx, tx, id),
			string(rec.Provenance.Channel), "duplicate delivery: "+rec.Provenance.OriginalName, now); err != nil {
			return nil, false, err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET updated_at = ? WHERE id = ?", now, id); err != nil {
			return nil, false, fmt.Errorf("touching document: %w", err)
		}

		doc, err := getTx(ctx, tx, id)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing transaction: %w", err)
		}
		return doc, false, nil
	}
}

// Transition moves a document between statuses under the optimistic
// guard. The guarded UPDATE and its history entry commit atomically.
func (l *Ledger) Transition(ctx context.Context, id string, from, to domain.Status, payload driven.TransitionPayload) (*domain.Document, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := statusForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current != from {
		return nil, fmt.Errorf("document %s is %s, expected %s: %w",
			id, current, from, domain.ErrConcurrencyConflict)
	}
	if current.Terminal() {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrTerminalDocument)
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s → %s: %w", from, to, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), now}

	if payload.DetectedType != nil {
		sets = append(sets, "detected_type = ?")
		args = append(args, string(*payload.DetectedType))
	}
	if payload.ExtractedText != nil {
		sets = append(sets, "extracted_text = ?")
		args = append(args, *payload.ExtractedText)
	}
	if payload.ExtractedTables != nil {
		tablesJSON, merr := json.Marshal(payload.ExtractedTables)
		if merr != nil {
			return nil, fmt.Errorf("marshalling tables: %w", merr)
		}
		sets = append(sets, "extracted_tables = ?")
		args = append(args, string(tablesJSON))
	}
	if payload.Department != nil && payload.Confidence != nil {
		reasonsJSON, merr := json.Marshal(payload.Reasons)
		if merr != nil {
			return nil, fmt.Errorf("marshalling reasons: %w", merr)
		}
		sets = append(sets, "department = ?", "confidence = ?", "classification_reasons = ?")
		args = append(args, string(*payload.Department), *payload.Confidence, string(reasonsJSON))
	}
	if len(payload.Metadata) > 0 {
		merged, merr := mergeMetadata(ctx, tx, id, payload.Metadata)
		if merr != nil {
			return nil, merr
		}
		sets = append(sets, "metadata = ?")
		args = append(args, merged)
	}

	// The status predicate re-checks the guard inside the write itself.
	args = append(args, id, string(from))
	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("updating document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %s moved concurrently: %w", id, domain.ErrConcurrencyConflict)
	}

	seq, err := nextSeq(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := appendHistory(ctx, tx, id, seq, to, "orchestrator", payload.Note, now); err != nil {
		return nil, err
	}

	if payload.ExtractedText != nil {
		if err := reindex(ctx, tx, id, *payload.ExtractedText); err != nil {
			return nil, err
		}
	}

	doc, err := getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return doc, nil
}

// RecordFailure increments the retry count and either rewinds the
// document to its retry entry point or moves it to FAILED.
func (l *Ledger) RecordFailure(ctx context.Context, id string, cause error, retryable bool) (*domain.Document, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := statusForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Terminal() {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrTerminalDocument)
	}

	var retryCount int
	if err := tx.QueryRowContext(ctx,
		"SELECT retry_count FROM documents WHERE id = ?", id).Scan(&retryCount); err != nil {
		return nil, fmt.Errorf("reading retry count: %w", err)
	}
	retryCount++

	now := time.Now().UTC()
	next := domain.StatusFailed
	detail := cause.Error()
	if retryable && retryCount <= l.retryLimit {
		next = current.RetryEntryPoint()
		detail = fmt.Sprintf("retry %d/%d: %s", retryCount, l.retryLimit, cause)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(next), retryCount, cause.Error(), now, id)
	if err != nil {
		return nil, fmt.Errorf("recording failure: %w", err)
	}

	seq, err := nextSeq(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := appendHistory(ctx, tx, id, seq, next, "orchestrator", detail, now); err != nil {
		return nil, err
	}

	doc, err := getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return doc, nil
}

// Resubmit re-enters a terminal document as a fresh attempt.
func (l *Ledger) Resubmit(ctx context.Context, id string) (*domain.Document, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := statusForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !current.Terminal() {
		return nil, fmt.Errorf("document %s is %s: %w", id, current, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET
			status = ?, detected_type = ?, extracted_text = '',
			extracted_tables = NULL, department = ?, confidence = 0,
			classification_reasons = NULL, retry_count = 0, last_error = '',
			updated_at = ?
		WHERE id = ?
	`, string(domain.StatusReceived), string(domain.TypeUnknown),
		string(domain.DeptUnclassified), now, id)
	if err != nil {
		return nil, fmt.Errorf("resubmitting document: %w", err)
	}

	seq, err := nextSeq(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := appendHistory(ctx, tx, id, seq, domain.StatusReceived, "operator", "resubmitted", now); err != nil {
		return nil, err
	}
	if err := reindex(ctx, tx, id, ""); err != nil {
		return nil, err
	}

	doc, err := getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return doc, nil
}

// Get retrieves a document by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Document, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	return getTx(ctx, tx, id)
}

// GetByFingerprint retrieves a document by content hash.
func (l *Ledger) GetByFingerprint(ctx context.Context, fp domain.ContentHash) (*domain.Document, error) {
	var id string
	err := l.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE fingerprint = ?", string(fp)).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fingerprint %s: %w", fp, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up fingerprint: %w", err)
	}
	return l.Get(ctx, id)
}

// Query returns documents matching the filter, newest first. A text
// filter runs through the FTS5 index over original names and extracted
// text.
func (l *Ledger) Query(ctx context.Context, filter driven.QueryFilter) ([]domain.Document, error) {
	query := selectColumns + " FROM documents d WHERE 1=1"
	var args []any

	if filter.Department != "" {
		query += " AND d.department = ?"
		args = append(args, string(filter.Department))
	}
	if filter.Status != "" {
		query += " AND d.status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Channel != "" {
		query += " AND d.source_channel = ?"
		args = append(args, string(filter.Channel))
	}
	if filter.Text != "" {
		query += " AND d.id IN (SELECT doc_id FROM documents_fts WHERE documents_fts MATCH ?)"
		args = append(args, ftsQuery(filter.Text))
	}

	query += " ORDER BY d.created_at DESC, d.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	for i := range docs {
		history, err := loadHistory(ctx, l.db, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].History = history
	}
	return docs, nil
}

// Counts returns aggregate counts for the status surface.
func (l *Ledger) Counts(ctx context.Context) (*driven.Counts, error) {
	counts := &driven.Counts{
		ByStatus:     make(map[domain.Status]int),
		ByDepartment: make(map[domain.Department]int),
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM documents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts.ByStatus[domain.Status(status)] = n
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}

	deptRows, err := l.db.QueryContext(ctx,
		"SELECT department, COUNT(*) FROM documents GROUP BY department")
	if err != nil {
		return nil, fmt.Errorf("counting by department: %w", err)
	}
	defer deptRows.Close()
	for deptRows.Next() {
		var dept string
		var n int
		if err := deptRows.Scan(&dept, &n); err != nil {
			return nil, fmt.Errorf("scanning department count: %w", err)
		}
		counts.ByDepartment[domain.Department(dept)] = n
	}
	if err := deptRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating department counts: %w", err)
	}

	return counts, nil
}

// ==================== Helper Functions ====================

const selectColumns = `SELECT d.id, d.fingerprint, d.source_channel, d.original_name,
	d.size_bytes, d.received_at, d.detected_type, d.status, d.extracted_text,
	d.extracted_tables, d.department, d.confidence, d.classification_reasons,
	d.retry_count, d.last_error, d.metadata, d.created_at, d.updated_at`

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getTx loads a full document, history included, within q.
func getTx(ctx context.Context, q querier, id string) (*domain.Document, error) {
	rows, err := q.QueryContext(ctx, selectColumns+" FROM documents d WHERE d.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying document: %w", err)
		}
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	doc.History, err = loadHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// scanDocument scans one document row (without history).
func scanDocument(rows *sql.Rows) (*domain.Document, error) {
	var doc domain.Document
	var fingerprint, channel, detectedType, status, department string
	var tablesJSON, reasonsJSON, metadataJSON sql.NullString
	var receivedAt, createdAt, updatedAt sql.NullTime

	if err := rows.Scan(&doc.ID, &fingerprint, &channel, &doc.OriginalName,
		&doc.SizeBytes, &receivedAt, &detectedType, &status, &doc.ExtractedText,
		&tablesJSON, &department, &doc.Confidence, &reasonsJSON,
		&doc.RetryCount, &doc.LastError, &metadataJSON, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Fingerprint = domain.ContentHash(fingerprint)
	doc.SourceChannel = domain.SourceChannel(channel)
	doc.DetectedType = domain.FileType(detectedType)
	doc.Status = domain.Status(status)
	doc.Department = domain.Department(department)
	if receivedAt.Valid {
		doc.ReceivedAt = receivedAt.Time
	}
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		doc.UpdatedAt = updatedAt.Time
	}

	if tablesJSON.Valid && tablesJSON.String != "" {
		if err := json.Unmarshal([]byte(tablesJSON.String), &doc.ExtractedTables); err != nil {
			return nil, fmt.Errorf("unmarshalling tables: %w", err)
		}
	}
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		if err := json.Unmarshal([]byte(reasonsJSON.String), &doc.ClassificationReasons); err != nil {
			return nil, fmt.Errorf("unmarshalling reasons: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	return &doc, nil
}

// loadHistory loads a document's audit trail in sequence order.
func loadHistory(ctx context.Context, q querier, id string) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, status, actor, detail, timestamp
		FROM document_history WHERE document_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var history []domain.HistoryEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var entry domain.HistoryEntry
		var status string
		var ts sql.NullTime
		if err := rows.Scan(&entry.Seq, &status, &entry.Actor, &entry.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entry.Status = domain.Status(status)
		if ts.Valid {
			entry.Timestamp = ts.Time
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return history, nil
}

// statusForUpdate reads a document's current status inside a
// transaction.
func statusForUpdate(ctx context.Context, tx *sql.Tx, id string) (domain.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}
	return domain.Status(status), nil
}

// currentStatus is statusForUpdate without error plumbing, for history
// entries where RECEIVED is a safe fallback.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) domain.Status {
	status, err := statusForUpdate(ctx, tx, id)
	if err != nil {
		return domain.StatusReceived
	}
	return status
}

// nextSeq computes the next history sequence number for a document.
func nextSeq(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM document_history WHERE document_id = ?", id).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("computing history sequence: %w", err)
	}
	return seq, nil
}

// appendHistory inserts one audit trail entry.
func appendHistory(ctx context.Context, tx *sql.Tx, id string, seq int, status domain.Status, actor, detail string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_history (document_id, seq, status, actor, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, seq, string(status), actor, detail, ts)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// mergeMetadata merges new entries over a document's stored metadata
// and returns the JSON to write back.
func mergeMetadata(ctx context.Context, tx *sql.Tx, id string, updates map[string]string) (string, error) {
	var existingJSON sql.NullString
	if err := tx.QueryRowContext(ctx,
		"SELECT metadata FROM documents WHERE id = ?", id).Scan(&existingJSON); err != nil {
		return "", fmt.Errorf("reading metadata: %w", err)
	}

	merged := make(map[string]string)
	if existingJSON.Valid && existingJSON.String != "" {
		if err := json.Unmarshal([]byte(existingJSON.String), &merged); err != nil {
			return "", fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}
	for k, v := range updates {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("marshalling metadata: %w", err)
	}
	return string(out), nil
}

// reindex refreshes a document's FTS row after its text changed.
func reindex(ctx context.Context, tx *sql.Tx, id, text string) error {
	var name string
	if err := tx.QueryRowContext(ctx,
		"SELECT original_name FROM documents WHERE id = ?", id).Scan(&name); err != nil {
		return fmt.Errorf("reading original name: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents_fts WHERE doc_id = ?", id); err != nil {
		return fmt.Errorf("clearing fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents_fts (doc_id, original_name, extracted_text)
		VALUES (?, ?, ?)
	`, id, name, text); err != nil {
		return fmt.Errorf("writing fts row: %w", err)
	}
	return nil
}

// ftsQuery quotes each term so user input cannot break the FTS5 query
// grammar. Terms combine with implicit AND.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// isUniqueViolation recognises the driver's UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
