package indexer

import "testing"

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name   string
		chunks []Chunk
		dim    int
		want   Stats
	}{
		{
			name: "no chunks",
			dim:  8,
			want: Stats{Dimension: 8},
		},
		{
			name:   "single chunk",
			chunks: []Chunk{{Index: 0, Text: "héllo"}},
			dim:    3,
			want: Stats{
				Chunks:     1,
				Characters: 5,
				Dimension:  3,
				ChunkChars: ChunkLengthStats{Min: 5, Max: 5, Mean: 5, P95: 5},
			},
		},
		{
			name: "fixed size with remainder",
			chunks: []Chunk{
				{Index: 0, Text: "aaaa"},
				{Index: 1, Text: "bbbb"},
				{Index: 2, Text: "cc"},
			},
			dim: 16,
			want: Stats{
				Chunks:     3,
				Characters: 10,
				Dimension:  16,
				ChunkChars: ChunkLengthStats{Min: 2, Max: 4, Mean: 10.0 / 3.0, P95: 4},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeStats(tt.chunks, tt.dim); got != tt.want {
				t.Errorf("ComputeStats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
