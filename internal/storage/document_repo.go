package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks resource-rag/internal/storage DocumentStore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// DefaultListLimit caps ListRecent when the caller passes a non-positive limit.
const DefaultListLimit = 20

// timeLayout is the stored format of ingested_at; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DocumentStore defines the interface for ingestion history operations.
type DocumentStore interface {
	// Insert records an ingestion. The ID must be unique.
	Insert(ctx context.Context, doc *DocumentRecord) error
	// GetByID returns the full record including raw text.
	// Returns nil and ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*DocumentRecord, error)
	// ListRecent returns up to limit records, newest first, without raw text.
	ListRecent(ctx context.Context, limit int) ([]DocumentRecord, error)
}

// DocumentRepo provides methods for ingestion history.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// ContentHash returns the SHA256 hex digest of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Insert records an ingestion. An empty ContentHash is filled from RawText.
func (r *DocumentRepo) Insert(ctx context.Context, doc *DocumentRecord) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if doc.ContentHash == "" {
		doc.ContentHash = ContentHash(doc.RawText)
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	doc.IngestedAt = doc.IngestedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, source_url, char_count, chunk_count, content_hash, raw_text, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceURL, doc.CharCount, doc.ChunkCount, doc.ContentHash, doc.RawText,
		doc.IngestedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID returns the full record including raw text.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*DocumentRecord, error) {
	var doc DocumentRecord
	var ingestedAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, source_url, char_count, chunk_count, content_hash, raw_text, ingested_at
		 FROM documents WHERE id = ?`,
		id,
	).Scan(&doc.ID, &doc.SourceURL, &doc.CharCount, &doc.ChunkCount, &doc.ContentHash, &doc.RawText, &ingestedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	doc.IngestedAt, err = parseTime(ingestedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListRecent returns up to limit records, newest first, without raw text.
func (r *DocumentRepo) ListRecent(ctx context.Context, limit int) ([]DocumentRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_url, char_count, chunk_count, content_hash, ingested_at
		 FROM documents ORDER BY ingested_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	docs := make([]DocumentRecord, 0)
	for rows.Next() {
		var doc DocumentRecord
		var ingestedAt string
		if err := rows.Scan(&doc.ID, &doc.SourceURL, &doc.CharCount, &doc.ChunkCount, &doc.ContentHash, &ingestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if doc.IngestedAt, err = parseTime(ingestedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// parseTime reads ingested_at. Databases created with a DATETIME column hand
// the value back through the driver as RFC3339Nano, which drops trailing zeros.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse ingested_at timestamp %q", s)
}
