package grid

import (
	"fmt"
	"strings"
)

const (
	// Dead is the value of an empty cell.
	Dead byte = 0
	// Alive is the value of a live cell.
	Alive byte = 1
)

// Grid is a rows×cols row-major grid of cells.
type Grid struct {
	Rows  int
	Cols  int
	Cells []byte
}

// New creates an all-dead grid.
func New(rows, cols int) *Grid {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("grid: invalid dimensions %dx%d", rows, cols))
	}
	return &Grid{
		Rows:  rows,
		Cols:  cols,
		Cells: make([]byte, rows*cols),
	}
}

// FromRows builds a grid from explicit rows. Every row must have the same
// width and hold only Dead or Alive values.
func FromRows(rows [][]byte) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("grid: empty rows")
	}
	g := New(len(rows), len(rows[0]))
	for r, row := range rows {
		if len(row) != g.Cols {
			return nil, fmt.Errorf("grid: row %d has %d cells, want %d", r, len(row), g.Cols)
		}
		for c, v := range row {
			if v != Dead && v != Alive {
				return nil, fmt.Errorf("grid: cell (%d,%d) has value %d", r, c, v)
			}
		}
		copy(g.Row(r), row)
	}
	return g, nil
}

// Row returns row r as a slice aliasing the grid.
func (g *Grid) Row(r int) []byte {
	if r < 0 || r >= g.Rows {
		panic(fmt.Sprintf("grid: row %d out of range [0,%d)", r, g.Rows))
	}
	return g.Cells[r*g.Cols : (r+1)*g.Cols]
}

// At returns the cell at (r, c).
func (g *Grid) At(r, c int) byte {
	return g.Cells[g.index(r, c)]
}

// Set stores v at (r, c).
func (g *Grid) Set(r, c int, v byte) {
	g.Cells[g.index(r, c)] = v
}

func (g *Grid) index(r, c int) int {
	if r < 0 || r >= g.Rows || c < 0 || c >= g.Cols {
		panic(fmt.Sprintf("grid: cell (%d,%d) out of range %dx%d", r, c, g.Rows, g.Cols))
	}
	return r*g.Cols + c
}

// Population counts live cells.
func (g *Grid) Population() int {
	n := 0
	for _, v := range g.Cells {
		n += int(v)
	}
	return n
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{Rows: g.Rows, Cols: g.Cols, Cells: make([]byte, len(g.Cells))}
	copy(out.Cells, g.Cells)
	return out
}

// Equal reports whether both grids have the same shape and cells.
func (g *Grid) Equal(other *Grid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.Rows != other.Rows || g.Cols != other.Cols {
		return false
	}
	for i := range g.Cells {
		if g.Cells[i] != other.Cells[i] {
			return false
		}
	}
	return true
}

// String renders the grid one row per line, cells separated by spaces.
func (g *Grid) String() string {
	var sb strings.Builder
	for r := 0; r < g.Rows; r++ {
		for c, v := range g.Row(r) {
			if c > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte('0' + v)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Evolve advances a copy of g by steps generations on a single buffer pair.
// It is the undecomposed reference the banded computation must agree with.
func Evolve(g *Grid, steps int) *Grid {
	cur := g.Clone()
	next := New(g.Rows, g.Cols)
	for t := 0; t < steps; t++ {
		for r := 0; r < g.Rows; r++ {
			for c := 0; c < g.Cols; c++ {
				n := CountNeighbors(cur.Cells, cur.Rows, cur.Cols, r, c)
				next.Cells[r*g.Cols+c] = NextState(cur.Cells[r*g.Cols+c], n)
			}
		}
		cur, next = next, cur
	}
	return cur
}
