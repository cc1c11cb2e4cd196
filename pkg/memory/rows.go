package memory

import "fmt"

// StreamRows fills dst one row at a time through a single fast-pool scratch
// row, so transient fast-pool use stays at rowBytes regardless of the number
// of rows. fill receives the row index and the scratch row, which it must
// overwrite completely.
func (a *Allocator) StreamRows(dst []byte, rowBytes, rows int, fill func(y int, row []byte) error) error {
	if rowBytes <= 0 || rows <= 0 {
		return fmt.Errorf("invalid row geometry %dx%d", rowBytes, rows)
	}
	if len(dst) < rowBytes*rows {
		return fmt.Errorf("destination holds %d bytes, need %d", len(dst), rowBytes*rows)
	}

	scratch, err := a.Alloc(rowBytes, TierFast)
	if err != nil {
		return fmt.Errorf("row scratch: %w", err)
	}
	defer scratch.Free()

	row := scratch.Data()
	for y := 0; y < rows; y++ {
		if err := fill(y, row); err != nil {
			return fmt.Errorf("row %d: %w", y, err)
		}
		copy(dst[y*rowBytes:(y+1)*rowBytes], row)
	}
	return nil
}
