package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

const (
	defaultHashDim = 384
	hashMinNgram   = 3
	hashMaxNgram   = 5
)

var (
	seedIndex = []byte("aina-subword-idx-v1::")
	seedSign  = []byte("aina-subword-sgn-v1::")
)

// HashEncoder is a deterministic character n-gram hashing encoder. Phrases
// sharing subword structure land close together. It needs no model files and
// serves offline builds and tests.
type HashEncoder struct {
	dim int
}

// NewHashEncoder returns a hashing encoder of the given dimension (384 when dim <= 0).
func NewHashEncoder(dim int) *HashEncoder {
	if dim <= 0 {
		dim = defaultHashDim
	}
	return &HashEncoder{dim: dim}
}

func (e *HashEncoder) Dimension() int { return e.dim }

func (e *HashEncoder) ModelID() string { return "hash-ngram-v1" }

// Encode never fails except on a cancelled context. Empty phrases map to a zero row.
func (e *HashEncoder) Encode(ctx context.Context, phrases []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}
	out := make([][]float32, len(phrases))
	for i, p := range phrases {
		out[i] = e.vector(p)
	}
	return out, nil
}

func (e *HashEncoder) vector(phrase string) []float32 {
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(textnorm.Key(phrase), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '·'
	})
	if len(words) == 0 {
		return vec
	}
	for _, w := range words {
		bounded := "<" + w + ">"
		runes := []rune(bounded)
		e.add(vec, bounded)
		for n := hashMinNgram; n <= hashMaxNgram && n <= len(runes); n++ {
			for i := 0; i+n <= len(runes); i++ {
				e.add(vec, string(runes[i:i+n]))
			}
		}
	}
	Normalize(vec)
	return vec
}

func (e *HashEncoder) add(vec []float32, feature string) {
	idx := int(stableHash(seedIndex, feature) % uint64(e.dim))
	if stableHash(seedSign, feature)%2 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func stableHash(seed []byte, s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(seed)
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
