package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks resource-rag/internal/vectorstore Builder,Index

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyIndex is returned when building an index from zero vectors.
	ErrEmptyIndex = errors.New("cannot build index from zero vectors")
	// ErrInvalidK is returned when a search asks for fewer than one neighbor.
	ErrInvalidK = errors.New("k must be at least 1")
)

// DimensionMismatchError reports a vector whose length differs from the index dimension.
// Position is the offending vector's position in the build input, or -1 for a query vector.
type DimensionMismatchError struct {
	Position int
	Want     int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("query vector has dimension %d, index has %d", e.Got, e.Want)
	}
	return fmt.Sprintf("vector %d has dimension %d, expected %d", e.Position, e.Got, e.Want)
}

// Is lets errors.Is match ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Neighbor is one search hit: the chunk position and its squared L2 distance to the query.
type Neighbor struct {
	ChunkIndex int
	Distance   float64
}

// Index answers exact nearest-neighbor queries over an immutable set of vectors.
// Vector i of the build input is reported as ChunkIndex i.
type Index interface {
	// Search returns up to k neighbors ordered by ascending squared L2 distance,
	// ties broken by ascending chunk index. If k exceeds Len, all vectors are returned.
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	// Len returns the number of indexed vectors.
	Len() int
	// Dim returns the dimension shared by all indexed vectors.
	Dim() int
	// Release frees backend resources. The index must not be searched afterwards.
	Release(ctx context.Context) error
}

// Builder creates a fresh Index from an ordered sequence of vectors.
type Builder interface {
	Build(ctx context.Context, vectors [][]float32) (Index, error)
}

// checkDimensions returns the shared dimension of vectors or a *DimensionMismatchError.
func checkDimensions(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, ErrEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, &DimensionMismatchError{Position: 0, Want: 1, Got: 0}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, &DimensionMismatchError{Position: i, Want: dim, Got: len(v)}
		}
	}
	return dim, nil
}
