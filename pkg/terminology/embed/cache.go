package embed

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optim-dev/aina/internal/logging"
)

// CachedEncoder puts a Redis cache in front of another encoder. Rows are
// keyed by model id and phrase, so a model change never serves stale vectors.
// Cache failures are logged and bypassed; they never fail an Encode call.
type CachedEncoder struct {
	next   Encoder
	rdb    redis.Cmdable
	log    logging.Logger
	prefix string
	ttl    time.Duration
}

// CacheOption configures a CachedEncoder.
type CacheOption func(*CachedEncoder)

func WithPrefix(prefix string) CacheOption {
	return func(c *CachedEncoder) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedEncoder) { c.ttl = ttl }
}

func WithLogger(log logging.Logger) CacheOption {
	return func(c *CachedEncoder) { c.log = log }
}

// NewCachedEncoder wraps next with a Redis cache.
func NewCachedEncoder(next Encoder, rdb redis.Cmdable, opts ...CacheOption) *CachedEncoder {
	c := &CachedEncoder{
		next:   next,
		rdb:    rdb,
		log:    logging.Default(),
		prefix: "aina:emb:",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("embed-cache")
	return c
}

func (c *CachedEncoder) Dimension() int { return c.next.Dimension() }

func (c *CachedEncoder) ModelID() string { return c.next.ModelID() }

// Key returns the cache key of a phrase.
func (c *CachedEncoder) Key(phrase string) string {
	sum := sha1.Sum([]byte(c.next.ModelID() + "|" + phrase))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachedEncoder) Encode(ctx context.Context, phrases []string) ([][]float32, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	keys := make([]string, len(phrases))
	for i, p := range phrases {
		keys[i] = c.Key(p)
	}

	out := make([][]float32, len(phrases))
	var missIdx []int
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("cache read failed", logging.Err(err))
		vals = nil
	}
	for i := range phrases {
		if i < len(vals) {
			if s, ok := vals[i].(string); ok {
				if vec, err := decodeVector(s, c.next.Dimension()); err == nil {
					out[i] = vec
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	missing := make([]string, len(missIdx))
	for j, i := range missIdx {
		missing[j] = phrases[i]
	}
	rows, err := c.next.Encode(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = rows[j]
		if err := c.rdb.Set(ctx, keys[i], encodeVector(rows[j]), c.ttl).Err(); err != nil {
			c.log.Warn("cache write failed", logging.String("key", keys[i]), logging.Err(err))
		}
	}
	return out, nil
}

func encodeVector(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return string(buf)
}

func decodeVector(s string, dim int) ([]float32, error) {
	if len(s)%4 != 0 || (dim > 0 && len(s) != 4*dim) {
		return nil, fmt.Errorf("cached vector has %d bytes", len(s))
	}
	v := make([]float32, len(s)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return v, nil
}
