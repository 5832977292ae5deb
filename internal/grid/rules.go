package grid

import "fmt"

// CountNeighbors returns the number of live cells among the eight Moore
// neighbours of (x, y) in a rows×cols row-major buffer. Positions outside the
// buffer count as dead; columns do not wrap.
func CountNeighbors(buf []byte, rows, cols, x, y int) int {
	if x < 0 || x >= rows || y < 0 || y >= cols || len(buf) < rows*cols {
		panic(fmt.Sprintf("grid: neighbour lookup (%d,%d) outside %dx%d buffer", x, y, rows, cols))
	}
	live := 0
	for i := -1; i <= 1; i++ {
		nx := x + i
		if nx < 0 || nx >= rows {
			continue
		}
		for j := -1; j <= 1; j++ {
			ny := y + j
			if ny < 0 || ny >= cols {
				continue
			}
			live += int(buf[nx*cols+ny])
		}
	}
	return live - int(buf[x*cols+y])
}

// NextState applies the birth/survival rule: a live cell survives with two or
// three live neighbours, a dead cell is born with exactly three.
func NextState(cell byte, neighbors int) byte {
	if cell == Alive {
		if neighbors == 2 || neighbors == 3 {
			return Alive
		}
		return Dead
	}
	if neighbors == 3 {
		return Alive
	}
	return Dead
}
