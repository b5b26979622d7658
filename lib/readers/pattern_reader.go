package readers

import "io"

// patternModulo is prime so a part boundary rarely lines up with a
// repeat of the pattern
const patternModulo = 251

// NewPatternReader returns length bytes of a repeating pattern:
// byte i has the value i % 251.
func NewPatternReader(length int64) io.Reader {
	return &patternReader{remaining: length}
}

type patternReader struct {
	remaining int64
	next      byte
}

func (r *patternReader) Read(p []byte) (n int, err error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	for i := range p {
		p[i] = r.next
		r.next++
		if r.next == patternModulo {
			r.next = 0
		}
	}
	r.remaining -= int64(len(p))
	return len(p), nil
}
