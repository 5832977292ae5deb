package codec

import (
	"errors"
	"fmt"

	"lifeband/internal/grid"
)

var (
	ErrLength    = errors.New("codec: cell count mismatch")
	ErrCellValue = errors.New("codec: cell value not 0 or 1")
)

// EncodeBand flattens owned rows 1..localM of b into a new localM*N slice.
func EncodeBand(b *grid.Band) []byte {
	return append([]byte(nil), b.Owned()...)
}

// DecodeBand writes a flat localM*N sequence into the owned rows of b.
// Halo rows are left as they are.
func DecodeBand(cells []byte, b *grid.Band) error {
	owned := b.Owned()
	if len(cells) != len(owned) {
		return fmt.Errorf("%w: got %d cells, band holds %d", ErrLength, len(cells), len(owned))
	}
	if err := ValidateCells(cells); err != nil {
		return err
	}
	copy(owned, cells)
	return nil
}

// EncodeRow copies a single row for transport.
func EncodeRow(row []byte) []byte {
	return append([]byte(nil), row...)
}

// DecodeRow copies a received row into dst, which must have the same width.
func DecodeRow(cells, dst []byte) error {
	if len(cells) != len(dst) {
		return fmt.Errorf("%w: got %d cells, row holds %d", ErrLength, len(cells), len(dst))
	}
	if err := ValidateCells(cells); err != nil {
		return err
	}
	copy(dst, cells)
	return nil
}

// ValidateCells rejects any value other than grid.Dead or grid.Alive.
func ValidateCells(cells []byte) error {
	for i, v := range cells {
		if v != grid.Dead && v != grid.Alive {
			return fmt.Errorf("%w: index %d holds %d", ErrCellValue, i, v)
		}
	}
	return nil
}
