package serial

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// ReadArray reads exactly n elements. Arity, not a count, is the wire
// contract, so padding elements come back as ordinary zero values.
func ReadArray[T any](r io.Reader, c Codec[T], n int) ([]T, error) {
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := c.Read(r)
		if err != nil {
			if err == io.EOF && i > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("array element %d/%d: %w", i, n, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteArray writes exactly n elements: s followed by zero values, or only
// the first n elements of s when it is longer (with a warning).
func WriteArray[T any](w io.Writer, c Codec[T], s []T, n int) error {
	if len(s) > n {
		log.Warn().
			Str("component", "serial").
			Int("len", len(s)).
			Int("limit", n).
			Msg("slice is larger than desired length, writing truncated")
		s = s[:n]
	}
	for i, v := range s {
		if err := c.Write(w, v); err != nil {
			return fmt.Errorf("array element %d/%d: %w", i, n, err)
		}
	}
	var zero T
	for i := len(s); i < n; i++ {
		if err := c.Write(w, zero); err != nil {
			return fmt.Errorf("array padding %d/%d: %w", i, n, err)
		}
	}
	return nil
}
