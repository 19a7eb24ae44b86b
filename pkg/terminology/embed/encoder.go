// Package embed turns phrases into unit-length dense vectors.
package embed

import (
	"context"
	"fmt"
	"math"

	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// Encoder is the embeddings port. Rows come back L2-normalized, in input
// order, and are deterministic for a fixed model. Encoders do not batch on
// their own; callers pass bounded batches (see Batched).
type Encoder interface {
	Encode(ctx context.Context, phrases []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

// Unavailable marks err as an encoder outage while keeping the cause.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", internalerr.ErrEncoderUnavailable, err)
}

// Normalize scales v to unit length in place. It reports false for a zero vector.
func Normalize(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return false
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return true
}

// Dot is the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Batched encodes phrases in chunks of at most size, calling observe (if not
// nil) with each chunk length. It stops at the first failing chunk.
func Batched(ctx context.Context, enc Encoder, phrases []string, size int, observe func(n int)) ([][]float32, error) {
	if size <= 0 {
		size = len(phrases)
	}
	out := make([][]float32, 0, len(phrases))
	for start := 0; start < len(phrases); start += size {
		if err := ctx.Err(); err != nil {
			return nil, Unavailable(err)
		}
		end := min(start+size, len(phrases))
		rows, err := enc.Encode(ctx, phrases[start:end])
		if err != nil {
			return nil, err
		}
		if len(rows) != end-start {
			return nil, Unavailable(fmt.Errorf("encoder returned %d rows for %d phrases", len(rows), end-start))
		}
		if observe != nil {
			observe(end - start)
		}
		out = append(out, rows...)
	}
	return out, nil
}
