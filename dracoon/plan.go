package dracoon

import (
	"fmt"
	"math"
)

// checkChunkSize makes sure chunk fits the object storage part limit
func checkChunkSize(chunk int64) error {
	if chunk <= 0 || chunk > int64(MaxChunkSize) {
		return fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidChunkSize, chunk, int64(MaxChunkSize))
	}
	return nil
}

// Plan works out how many parts an upload of size bytes needs with
// parts of chunk bytes, and the size of the last one.
//
// An empty file is one empty part. Otherwise
// (count-1)*chunk + last == size with 1 <= last <= chunk.
func Plan(size, chunk int64) (count uint32, last int64, err error) {
	if err = checkChunkSize(chunk); err != nil {
		return 0, 0, err
	}
	if size < 0 {
		return 0, 0, fmt.Errorf("%w: negative size %d", ErrInvalidChunkSize, size)
	}
	if size == 0 {
		return 1, 0, nil
	}
	n := (size-1)/chunk + 1
	if n > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: %d parts of %d bytes exceed the part number range", ErrInvalidChunkSize, n, chunk)
	}
	return uint32(n), size - (n-1)*chunk, nil
}
