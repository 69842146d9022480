package indexer

// Chunk is a contiguous slice of a document's text.
type Chunk struct {
	Index int    // Position within the document (starts at 0), also the vector position in the index
	Text  string // Exact substring of the source text
}
