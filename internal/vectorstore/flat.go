package vectorstore

import (
	"context"
	"sort"
)

// FlatBuilder builds brute-force in-memory indexes.
type FlatBuilder struct{}

// NewFlatBuilder creates a FlatBuilder.
func NewFlatBuilder() *FlatBuilder {
	return &FlatBuilder{}
}

// Build copies vectors into one contiguous backing slice.
func (b *FlatBuilder) Build(ctx context.Context, vectors [][]float32) (Index, error) {
	dim, err := checkDimensions(vectors)
	if err != nil {
		return nil, err
	}

	data := make([]float32, 0, len(vectors)*dim)
	for _, v := range vectors {
		data = append(data, v...)
	}

	return &FlatIndex{data: data, dim: dim, n: len(vectors)}, nil
}

// FlatIndex is an exact squared-L2 index over vectors stored row-major.
type FlatIndex struct {
	data []float32
	dim  int
	n    int
}

// Search scans every vector and returns the k nearest.
func (x *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(query) != x.dim {
		return nil, &DimensionMismatchError{Position: -1, Want: x.dim, Got: len(query)}
	}

	neighbors := make([]Neighbor, x.n)
	for i := 0; i < x.n; i++ {
		row := x.data[i*x.dim : (i+1)*x.dim]
		neighbors[i] = Neighbor{ChunkIndex: i, Distance: squaredL2(row, query)}
	}

	SortNeighbors(neighbors)

	if k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Len returns the number of indexed vectors.
func (x *FlatIndex) Len() int { return x.n }

// Dim returns the vector dimension.
func (x *FlatIndex) Dim() int { return x.dim }

// Release is a no-op for in-memory indexes.
func (x *FlatIndex) Release(ctx context.Context) error { return nil }

// SortNeighbors orders neighbors by ascending distance, then ascending chunk index.
func SortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].ChunkIndex < neighbors[j].ChunkIndex
	})
}

// squaredL2 accumulates in float64 so distances between float32 vectors stay stable.
func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
