package indexer

import (
	"math"
	"sort"
	"unicode/utf8"
)

// Stats describes one built index.
type Stats struct {
	// Chunks is the number of chunks (and vectors) in the index.
	Chunks int `json:"chunks"`
	// Characters is the total number of characters across all chunks.
	Characters int `json:"characters"`
	// Dimension is the embedding dimension.
	Dimension int `json:"dimension"`
	// ChunkChars summarizes chunk lengths in characters.
	ChunkChars ChunkLengthStats `json:"chunk_chars"`
}

// ChunkLengthStats summarizes chunk lengths.
type ChunkLengthStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// ComputeStats summarizes chunks indexed at the given dimension.
func ComputeStats(chunks []Chunk, dimension int) Stats {
	stats := Stats{Chunks: len(chunks), Dimension: dimension}
	if len(chunks) == 0 {
		return stats
	}

	lengths := make([]int, len(chunks))
	for i, chunk := range chunks {
		lengths[i] = utf8.RuneCountInString(chunk.Text)
		stats.Characters += lengths[i]
	}
	sort.Ints(lengths)

	p95 := int(math.Ceil(0.95*float64(len(lengths)))) - 1
	stats.ChunkChars = ChunkLengthStats{
		Min:  lengths[0],
		Max:  lengths[len(lengths)-1],
		Mean: float64(stats.Characters) / float64(len(lengths)),
		P95:  lengths[max(p95, 0)],
	}
	return stats
}
