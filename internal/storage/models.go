package storage

import "time"

// DocumentRecord is one successful ingestion.
type DocumentRecord struct {
	ID          string    // UUID of the ingestion
	SourceURL   string    // URL the text was fetched from
	CharCount   int       // Length in code points
	ChunkCount  int       // Number of chunks indexed
	ContentHash string    // SHA256 hex string of the raw text
	RawText     string    // Empty in ListRecent results
	IngestedAt  time.Time // UTC
}
