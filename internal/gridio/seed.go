package gridio

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"lifeband/internal/grid"
)

// Random fills a rows×cols grid, each cell alive with probability density.
func Random(rows, cols int, rng *rand.Rand, density float64) *grid.Grid {
	g := grid.New(rows, cols)
	for i := range g.Cells {
		if rng.Float64() < density {
			g.Cells[i] = grid.Alive
		}
	}
	return g
}

// ReadPattern parses a text grid: one row per line, '1' or '*' alive, '0' or
// '.' dead, spaces ignored. Blank lines and lines starting with '#' are
// skipped. All rows must have the same width.
func ReadPattern(r io.Reader) (*grid.Grid, error) {
	var rows [][]byte
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		row := make([]byte, 0, len(text))
		for _, ch := range text {
			switch ch {
			case '1', '*':
				row = append(row, grid.Alive)
			case '0', '.':
				row = append(row, grid.Dead)
			case ' ', '\t':
			default:
				return nil, fmt.Errorf("pattern line %d: unexpected %q", line, ch)
			}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pattern: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("pattern is empty")
	}
	return grid.FromRows(rows)
}

// LoadPattern reads a pattern file.
func LoadPattern(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pattern %s: %w", path, err)
	}
	defer f.Close()
	return ReadPattern(f)
}
