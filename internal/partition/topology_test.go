package partition

import (
	"errors"
	"testing"
)

func TestNewTopology(t *testing.T) {
	tests := []struct {
		name              string
		rows, cols        int
		size, rank        int
		wantErr           bool
		wantLocalM        int
		wantUpper, wantLo bool
	}{
		{name: "first of two", rows: 10, cols: 10, size: 2, rank: 0, wantLocalM: 5, wantLo: true},
		{name: "last of two", rows: 10, cols: 10, size: 2, rank: 1, wantLocalM: 5, wantUpper: true},
		{name: "interior", rows: 10, cols: 4, size: 5, rank: 2, wantLocalM: 2, wantUpper: true, wantLo: true},
		{name: "single worker", rows: 3, cols: 3, size: 1, rank: 0, wantLocalM: 3},
		{name: "uneven", rows: 10, cols: 10, size: 3, rank: 0, wantErr: true},
		{name: "rank too large", rows: 10, cols: 10, size: 2, rank: 2, wantErr: true},
		{name: "negative rank", rows: 10, cols: 10, size: 2, rank: -1, wantErr: true},
		{name: "zero workers", rows: 10, cols: 10, size: 0, rank: 0, wantErr: true},
		{name: "zero width", rows: 10, cols: 0, size: 2, rank: 0, wantErr: true},
		{name: "more workers than rows", rows: 2, cols: 2, size: 4, rank: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := NewTopology(tt.rows, tt.cols, tt.size, tt.rank)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTopology() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) || !errors.Is(err, ErrConfiguration) {
					t.Errorf("error %v is not a ConfigError", err)
				}
				return
			}
			if topo.LocalM != tt.wantLocalM {
				t.Errorf("LocalM = %d, want %d", topo.LocalM, tt.wantLocalM)
			}
			if topo.HasUpperNeighbor() != tt.wantUpper {
				t.Errorf("HasUpperNeighbor = %v, want %v", topo.HasUpperNeighbor(), tt.wantUpper)
			}
			if topo.HasLowerNeighbor() != tt.wantLo {
				t.Errorf("HasLowerNeighbor = %v, want %v", topo.HasLowerNeighbor(), tt.wantLo)
			}
			if topo.FirstRow() != tt.rank*tt.wantLocalM {
				t.Errorf("FirstRow = %d", topo.FirstRow())
			}
			if topo.LocalCells() != tt.wantLocalM*tt.cols {
				t.Errorf("LocalCells = %d", topo.LocalCells())
			}
		})
	}
}
