package grid

import "fmt"

// Band is one worker's slice of the grid: localM owned rows plus an upper
// halo (row 0) and a lower halo (row localM+1), each cols wide.
//
// Two equally sized buffers are kept. Step reads the current buffer and
// writes the owned rows of the next one; Swap makes the result current.
// Halo rows start dead and only change when a neighbour's row is copied in.
type Band struct {
	localM int
	cols   int
	cur    []byte
	next   []byte
}

// NewBand allocates an all-dead band.
func NewBand(localM, cols int) *Band {
	if localM <= 0 || cols <= 0 {
		panic(fmt.Sprintf("grid: invalid band dimensions %dx%d", localM, cols))
	}
	size := (localM + 2) * cols
	return &Band{
		localM: localM,
		cols:   cols,
		cur:    make([]byte, size),
		next:   make([]byte, size),
	}
}

// LocalM is the number of owned rows.
func (b *Band) LocalM() int { return b.localM }

// Cols is the band width.
func (b *Band) Cols() int { return b.cols }

// Row returns buffer row x of the current generation, halo rows included.
// The slice aliases the band.
func (b *Band) Row(x int) []byte {
	if x < 0 || x > b.localM+1 {
		panic(fmt.Sprintf("grid: band row %d out of range [0,%d]", x, b.localM+1))
	}
	return b.cur[x*b.cols : (x+1)*b.cols]
}

// UpperHalo is the shadow of the last row of the worker above.
func (b *Band) UpperHalo() []byte { return b.Row(0) }

// LowerHalo is the shadow of the first row of the worker below.
func (b *Band) LowerHalo() []byte { return b.Row(b.localM + 1) }

// FirstRow is the topmost owned row.
func (b *Band) FirstRow() []byte { return b.Row(1) }

// LastRow is the bottommost owned row.
func (b *Band) LastRow() []byte { return b.Row(b.localM) }

// Owned returns rows 1..localM of the current generation as one contiguous
// row-major slice aliasing the band.
func (b *Band) Owned() []byte {
	return b.cur[b.cols : (b.localM+1)*b.cols]
}

// At returns the current value at buffer coordinates (x, y).
func (b *Band) At(x, y int) byte {
	return b.Row(x)[y]
}

// Neighbors counts live neighbours of (x, y) within the band and its halos.
func (b *Band) Neighbors(x, y int) int {
	return CountNeighbors(b.cur, b.localM+2, b.cols, x, y)
}

// Step computes the next generation of every owned cell into the spare
// buffer. The current generation is left untouched until Swap.
func (b *Band) Step() {
	rows := b.localM + 2
	for x := 1; x <= b.localM; x++ {
		for y := 0; y < b.cols; y++ {
			n := CountNeighbors(b.cur, rows, b.cols, x, y)
			b.next[x*b.cols+y] = NextState(b.cur[x*b.cols+y], n)
		}
	}
}

// Swap promotes the buffer written by Step to the current generation.
func (b *Band) Swap() {
	b.cur, b.next = b.next, b.cur
}

// Population counts live owned cells.
func (b *Band) Population() int {
	n := 0
	for _, v := range b.Owned() {
		n += int(v)
	}
	return n
}
