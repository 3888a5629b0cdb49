package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/models"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Client is the catalogue of ingested documents and their chunks, plus the
// query history. It is the source of truth for rebuilding the sparse index.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		doc_type TEXT,
		category TEXT,
		upload_date INTEGER NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		ocr_pages INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id),
		UNIQUE (collection, source_path)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(doc_type);

	CREATE TABLE IF NOT EXISTS document_chunks (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		source_file TEXT NOT NULL,
		source_path TEXT NOT NULL,
		doc_type TEXT,
		category TEXT,
		upload_date TEXT,
		PRIMARY KEY (collection, id),
		FOREIGN KEY (collection, doc_id) REFERENCES documents(collection, id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(collection, doc_id);

	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		source_dir TEXT NOT NULL,
		collection TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		chunks INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON ingestion_runs(collection, started_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		candidates_count INTEGER,
		degraded INTEGER NOT NULL DEFAULT 0,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		source_file TEXT,
		page_number INTEGER,
		score REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	`

	if err := c.dropUnscopedCatalogue(); err != nil {
		return err
	}
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// dropUnscopedCatalogue removes document tables created before rows carried
// a collection. They only hold derived data; the next ingest repopulates them.
func (c *Client) dropUnscopedCatalogue() error {
	rows, err := c.db.Query(`SELECT name FROM pragma_table_info('documents')`)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect schema: %w", err)
		}
		columns = append(columns, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if len(columns) == 0 || slices.Contains(columns, "collection") {
		return nil
	}

	logger.Warn("Dropping catalogue without collection scoping, re-ingest to repopulate")
	if _, err := c.db.Exec(`DROP TABLE IF EXISTS document_chunks; DROP TABLE IF EXISTS documents;`); err != nil {
		return fmt.Errorf("failed to drop old catalogue: %w", err)
	}
	return nil
}

// ChunkIDs returns the chunk ids currently catalogued for a document in a
// collection.
func (c *Client) ChunkIDs(ctx context.Context, collection, docID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id FROM document_chunks WHERE collection = ? AND doc_id = ? ORDER BY id`, collection, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceDocument upserts the document row and replaces all of its chunks in
// one transaction. Rows are scoped to the collection.
func (c *Client) ReplaceDocument(ctx context.Context, collection string, doc *models.Document, chunks []domain.Chunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, source_path, file_name, doc_type, category, upload_date, pages, ocr_pages, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			file_name = excluded.file_name,
			doc_type = excluded.doc_type,
			category = excluded.category,
			upload_date = excluded.upload_date,
			pages = excluded.pages,
			ocr_pages = excluded.ocr_pages,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at`,
		collection, doc.ID, doc.SourcePath, doc.FileName, doc.DocType, doc.Category, doc.UploadDate.Unix(),
		doc.Pages, doc.OCRPages, len(chunks), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE collection = ? AND doc_id = ?`, collection, doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (collection, id, doc_id, page_number, chunk_index, text, source_file, source_path, doc_type, category, upload_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		md := ch.Metadata
		if _, err := stmt.ExecContext(ctx, collection, ch.ID, doc.ID, md.PageNumber, md.ChunkIndex, ch.Text,
			md.SourceFile, md.SourcePath, md.DocumentType, md.Category, md.UploadDate); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document catalogued",
		zap.String("collection", collection),
		zap.String("doc_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, collection, docID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) GetDocument(ctx context.Context, collection, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, source_path, file_name, doc_type, category, upload_date, pages, ocr_pages, chunk_count, created_at, updated_at
		FROM documents WHERE collection = ? AND id = ?`, collection, id)
	return scanDocument(row)
}

func (c *Client) ListDocuments(ctx context.Context, collection string) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source_path, file_name, doc_type, category, upload_date, pages, ocr_pages, chunk_count, created_at, updated_at
		FROM documents WHERE collection = ? ORDER BY source_path`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*models.Document, error) {
	var d models.Document
	var uploaded, created, updated int64
	var docType, category sql.NullString
	err := s.Scan(&d.ID, &d.SourcePath, &d.FileName, &docType, &category, &uploaded,
		&d.Pages, &d.OCRPages, &d.ChunkCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	d.DocType = docType.String
	d.Category = category.String
	d.UploadDate = time.Unix(uploaded, 0).UTC()
	d.CreatedAt = time.Unix(created, 0)
	d.UpdatedAt = time.Unix(updated, 0)
	return &d, nil
}

// AllChunks returns every chunk catalogued for a collection, ordered by id.
func (c *Client) AllChunks(ctx context.Context, collection string) ([]domain.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, doc_id, page_number, chunk_index, text, source_file, source_path, doc_type, category, upload_date
		FROM document_chunks WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var ch domain.Chunk
		var docType, category, uploaded sql.NullString
		md := &ch.Metadata
		if err := rows.Scan(&ch.ID, &md.DocumentID, &md.PageNumber, &md.ChunkIndex, &ch.Text,
			&md.SourceFile, &md.SourcePath, &docType, &category, &uploaded); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		md.DocumentType = docType.String
		md.Category = category.String
		md.UploadDate = uploaded.String
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (c *Client) InsertIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, source_dir, collection, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.SourceDir, run.Collection, run.Status, run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ingestion run: %w", err)
	}
	return nil
}

func (c *Client) FinishIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET processed = ?, skipped = ?, failed = ?, chunks = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		run.Processed, run.Skipped, run.Failed, run.Chunks, run.Status, run.Error, finished.Unix(), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish ingestion run: %w", err)
	}
	return nil
}

// Stats summarises one collection and its most recent ingestion run.
func (c *Client) Stats(ctx context.Context, collection string) (*models.CatalogueStats, error) {
	var s models.CatalogueStats
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(chunk_count), 0), COALESCE(SUM(ocr_pages), 0)
		FROM documents WHERE collection = ?`, collection,
	).Scan(&s.Documents, &s.Chunks, &s.OCRPages)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalogue stats: %w", err)
	}

	var run models.IngestionRun
	var started int64
	var finished sql.NullInt64
	var runErr sql.NullString
	err = c.db.QueryRowContext(ctx, `
		SELECT id, source_dir, collection, processed, skipped, failed, chunks, status, error, started_at, finished_at
		FROM ingestion_runs WHERE collection = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, collection,
	).Scan(&run.ID, &run.SourceDir, &run.Collection, &run.Processed, &run.Skipped, &run.Failed,
		&run.Chunks, &run.Status, &runErr, &started, &finished)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get last ingestion run: %w", err)
	default:
		run.Error = runErr.String
		run.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			run.FinishedAt = &t
		}
		s.LastRun = &run
	}
	return &s, nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_history (id, user_id, query_text, response, candidates_count, degraded, cache_hit, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.QueryText, record.Response, record.CandidatesCount,
		boolToInt(record.Degraded), boolToInt(record.CacheHit), record.LatencyMS, record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Int("latency_ms", record.LatencyMS),
		zap.Bool("degraded", record.Degraded),
	)
	return nil
}

func (c *Client) InsertQuerySource(ctx context.Context, source *models.QuerySource) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_sources (query_id, chunk_id, source_file, page_number, score) VALUES (?, ?, ?, ?, ?)`,
		source.QueryID, source.ChunkID, source.SourceFile, source.PageNumber, source.Score,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query source: %w", err)
	}
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, query_text, response, candidates_count, degraded, cache_hit, latency_ms, created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var degraded, cacheHit int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.QueryText, &r.Response, &r.CandidatesCount,
			&degraded, &cacheHit, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Degraded = degraded == 1
		r.CacheHit = cacheHit == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *Client) StoreFeedback(ctx context.Context, feedback *models.Feedback) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO feedback (query_id, helpful, comment, created_at) VALUES (?, ?, ?, ?)`,
		feedback.QueryID, boolToInt(feedback.Helpful), feedback.Comment, feedback.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored", zap.String("query_id", feedback.QueryID), zap.Bool("helpful", feedback.Helpful))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
