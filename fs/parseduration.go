package fs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration which can be set from config strings
type Duration time.Duration

// String turns Duration into a string
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration parses a duration string. Accepts anything
// time.ParseDuration does plus a "d" suffix for days. A bare number
// is seconds.
func ParseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	multiplier := time.Second
	numberString := s
	if strings.HasSuffix(s, "d") {
		multiplier = 24 * time.Hour
		numberString = s[:len(s)-1]
	}
	period, perr := strconv.ParseFloat(numberString, 64)
	if perr != nil {
		return 0, err
	}
	return time.Duration(period * float64(multiplier)), nil
}

// Set a Duration
func (d *Duration) Set(s string) error {
	duration, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Type of the value
func (d Duration) Type() string {
	return "Duration"
}

// Scan implements the fmt.Scanner interface
func (d *Duration) Scan(s fmt.ScanState, ch rune) error {
	token, err := s.Token(true, nil)
	if err != nil {
		return err
	}
	return d.Set(string(token))
}

// UnmarshalJSON makes sure the value can be parsed as a string or integer in JSON
func (d *Duration) UnmarshalJSON(in []byte) error {
	return UnmarshalJSONFlag(in, d, func(i int64) error {
		*d = Duration(i)
		return nil
	})
}
