package indexer

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// DefaultChunkSize is the number of characters per chunk when none is configured.
const DefaultChunkSize = 2048

var (
	// ErrInvalidInput is the parent of every input validation error in this package.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidChunkSize is returned for chunk sizes below 1.
	ErrInvalidChunkSize = fmt.Errorf("%w: chunk size must be at least 1", ErrInvalidInput)
	// ErrEmptyDocument is returned when a document has no text to index.
	ErrEmptyDocument = fmt.Errorf("%w: document is empty", ErrInvalidInput)
)

// ChunkText splits text into consecutive, non-overlapping chunks of size characters.
// Characters are Unicode code points; the final chunk holds the remainder.
// Empty text yields zero chunks. Joining the chunk texts in order reproduces text byte for byte.
func ChunkText(text string, size int) ([]Chunk, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidChunkSize, size)
	}

	chunks := make([]Chunk, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for offset := range text {
		if count == size {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:offset]})
			start, count = offset, 0
		}
		count++
	}
	if count > 0 {
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:]})
	}

	return chunks, nil
}
