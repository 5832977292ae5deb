package gridio

import (
	"bufio"
	"fmt"
	"io"

	"lifeband/internal/grid"
)

// Render writes the final grid under a "Final Grid:" heading, one row per
// line with every cell followed by a space, then a blank line.
func Render(w io.Writer, g *grid.Grid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Final Grid:")
	writeRows(bw, g.Rows, g.Row)
	return bw.Flush()
}

// RenderBand writes one worker's owned rows for a given step.
func RenderBand(w io.Writer, rank, step int, b *grid.Band) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Rank %d, Time Step %d:\n", rank, step)
	writeRows(bw, b.LocalM(), func(i int) []byte { return b.Row(i + 1) })
	return bw.Flush()
}

func writeRows(bw *bufio.Writer, n int, row func(int) []byte) {
	for i := 0; i < n; i++ {
		for _, v := range row(i) {
			fmt.Fprintf(bw, "%d ", v)
		}
		bw.WriteByte('\n')
	}
	bw.WriteByte('\n')
}
