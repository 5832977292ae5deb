package partition

// Topology is one rank's fixed place in the decomposition.
type Topology struct {
	Rank   int
	Size   int
	Rows   int // global M
	Cols   int // global N
	LocalM int // Rows / Size
}

// NewTopology validates the run parameters and derives the band height.
// Rows must divide evenly by size.
func NewTopology(rows, cols, size, rank int) (Topology, error) {
	switch {
	case rows <= 0 || cols <= 0:
		return Topology{}, configErrorf("grid must be at least 1x1, got %dx%d", rows, cols)
	case size <= 0:
		return Topology{}, configErrorf("worker count must be positive, got %d", size)
	case rank < 0 || rank >= size:
		return Topology{}, configErrorf("rank %d outside [0,%d)", rank, size)
	case rows%size != 0:
		return Topology{}, configErrorf("%d rows do not divide evenly across %d workers", rows, size)
	}
	return Topology{
		Rank:   rank,
		Size:   size,
		Rows:   rows,
		Cols:   cols,
		LocalM: rows / size,
	}, nil
}

func (t Topology) HasUpperNeighbor() bool { return t.Rank > 0 }

func (t Topology) HasLowerNeighbor() bool { return t.Rank < t.Size-1 }

// FirstRow is the global index of the band's first owned row.
func (t Topology) FirstRow() int { return t.Rank * t.LocalM }

// LocalCells is the number of owned cells, localM*N.
func (t Topology) LocalCells() int { return t.LocalM * t.Cols }
