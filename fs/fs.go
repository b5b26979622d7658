// Package fs holds the pieces shared by every part of the client:
// process config, logging, and the value types used in options.
package fs

import (
	"io"
)

// CheckClose is a utility function used to check the return from
// Close in a defer statement.
func CheckClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}
