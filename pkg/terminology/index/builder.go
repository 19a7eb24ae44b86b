package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/stem"
	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

const (
	DefaultBatchSize    = 32
	DefaultContextChars = 160
)

// Builder compiles glossary entries into a Snapshot.
type Builder struct {
	Encoder embed.Encoder
	Stemmer stem.Stemmer
	Log     logging.Logger

	// BatchSize bounds how many phrases go to the encoder at once.
	BatchSize int
	// IncludeContext adds a second row per entry: the term followed by the
	// first sentence of its usage context.
	IncludeContext bool
	// IncludeVariants adds a row for every non-normative variant and
	// counter-example, so that near misses of the problem forms score
	// against the entry.
	IncludeVariants bool
	ContextChars    int

	// ObserveBatch, when set, receives the size of every encoder batch.
	ObserveBatch func(n int)
}

// PhraseKey returns the exact-table key of a phrase and its token count.
// Punctuation inside the phrase is part of the key, so "p. ej." only
// matches text carrying the same marks.
func PhraseKey(phrase string) (string, int) {
	segs := ingest.Segments(phrase)
	return textnorm.JoinKey(segs), len(segs)
}

// WordKey is PhraseKey without punctuation. Vector queries and their
// self-hit checks use it.
func WordKey(phrase string) string {
	return textnorm.JoinKey(ingest.Words(phrase))
}

// Build validates entries and compiles every table. All failures are
// returned as *internalerr.BuildError.
func (b *Builder) Build(ctx context.Context, entries []glossary.Entry) (*Snapshot, error) {
	if b.Encoder == nil {
		return nil, &internalerr.BuildError{Stage: "config", Err: errors.New("encoder is required")}
	}
	if b.Stemmer == nil {
		return nil, &internalerr.BuildError{Stage: "config", Err: errors.New("stemmer is required")}
	}
	log := logging.OrDefault(b.Log).Named("index")
	start := time.Now()

	store, err := glossary.NewStore(entries)
	if err != nil {
		return nil, &internalerr.BuildError{Stage: "validate", Err: err}
	}

	snap := &Snapshot{
		Version:          NewVersion(),
		CreatedAt:        start.UTC(),
		ModelID:          b.Encoder.ModelID(),
		GlossaryChecksum: glossary.Checksum(store.All()),
		IncludeContext:   b.IncludeContext,
		IncludeVariants:  b.IncludeVariants,
		entries:          store,
	}
	for _, e := range store.All() {
		if e.PrefixMismatch() {
			log.Warn("entry id prefix does not match its category",
				logging.String("entry", e.ID),
				logging.String("category", string(e.Category)),
				logging.String("expected_prefix", e.Category.IDPrefix()+"-"))
		}
	}
	snap.exact, snap.MaxNgram = buildExact(store, log)
	snap.stems = buildStems(store, b.Stemmer, log)
	snap.deriveKeys()

	vectors, err := b.encodeRows(ctx, store)
	if err != nil {
		return nil, &internalerr.BuildError{Stage: "encode", Err: err}
	}
	snap.vectors = vectors
	snap.Dims = vectors.Dims()

	log.Info("index built",
		logging.String("version", snap.Version),
		logging.Int("entries", store.Len()),
		logging.Int("exact_keys", len(snap.exact)),
		logging.Int("stem_keys", len(snap.stems)),
		logging.Int("vector_rows", vectors.Len()),
		logging.Int("max_ngram", snap.MaxNgram),
		logging.Duration("took", time.Since(start)))
	return snap, nil
}

// buildExact registers every recommended term before any variant, so a
// normative phrase can never be claimed as another entry's variant.
func buildExact(store *glossary.Store, log logging.Logger) (map[string]ExactRef, int) {
	exact := make(map[string]ExactRef)
	maxN := 1
	register := func(phrase string, ref ExactRef) {
		key, n := PhraseKey(phrase)
		if key == "" {
			return
		}
		if prev, taken := exact[key]; taken {
			if prev.Entry != ref.Entry || prev.Kind != ref.Kind {
				log.Warn("exact key already registered",
					logging.String("key", key),
					logging.String("kept", store.At(prev.Entry).ID),
					logging.String("kept_kind", prev.Kind.String()),
					logging.String("skipped", store.At(ref.Entry).ID),
					logging.String("skipped_kind", ref.Kind.String()))
			}
			return
		}
		exact[key] = ref
		maxN = max(maxN, n)
	}
	for i, e := range store.All() {
		register(e.RecommendedTerm, ExactRef{Entry: i, Kind: KindRecommended})
	}
	for i, e := range store.All() {
		for _, v := range e.NonNormativeVariants {
			register(v, ExactRef{Entry: i, Kind: KindVariant})
		}
	}
	return exact, maxN
}

func buildStems(store *glossary.Store, stemmer stem.Stemmer, log logging.Logger) map[string]int {
	normative := make(map[string]string)
	for _, e := range store.All() {
		if key, n := PhraseKey(e.RecommendedTerm); n == 1 {
			if _, ok := normative[stemmer.Stem(key)]; !ok {
				normative[stemmer.Stem(key)] = e.ID
			}
		}
	}

	stems := make(map[string]int)
	for i, e := range store.All() {
		for _, v := range e.NonNormativeVariants {
			key, n := PhraseKey(v)
			if n != 1 {
				continue
			}
			st := stemmer.Stem(key)
			if st == "" {
				continue
			}
			if owner, ok := normative[st]; ok {
				log.Warn("variant stem shadows a recommended term, skipped",
					logging.String("entry", e.ID),
					logging.String("variant", v),
					logging.String("stem", st),
					logging.String("recommended_of", owner))
				continue
			}
			if prev, taken := stems[st]; taken {
				if prev != i {
					log.Warn("stem collision, first entry kept",
						logging.String("stem", st),
						logging.String("kept", store.At(prev).ID),
						logging.String("skipped", e.ID))
				}
				continue
			}
			stems[st] = i
		}
	}
	return stems
}

func (b *Builder) encodeRows(ctx context.Context, store *glossary.Store) (*VectorTable, error) {
	var (
		phrases []string
		entry   []int
		kind    []RowKind
	)
	add := func(phrase string, i int, k RowKind) {
		phrases = append(phrases, phrase)
		entry = append(entry, i)
		kind = append(kind, k)
	}
	for i, e := range store.All() {
		add(e.RecommendedTerm, i, RowTerm)
		if b.IncludeContext {
			if c := firstSentence(e.UsageContext, b.contextChars()); c != "" {
				add(e.RecommendedTerm+": "+c, i, RowContext)
			}
		}
		if b.IncludeVariants {
			for _, v := range e.NonNormativeVariants {
				add(v, i, RowVariant)
			}
			for _, ex := range e.CounterExamples {
				if c := firstSentence(ex, b.contextChars()); c != "" {
					add(c, i, RowExample)
				}
			}
		}
	}

	batch := b.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	rows, err := embed.Batched(ctx, b.Encoder, phrases, batch, b.ObserveBatch)
	if err != nil {
		return nil, err
	}

	dims := b.Encoder.Dimension()
	if dims <= 0 && len(rows) > 0 {
		dims = len(rows[0])
	}
	if dims <= 0 {
		return nil, errors.New("encoder reported no dimension")
	}
	data := make([]float32, 0, dims*len(rows))
	for i, row := range rows {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d has %d dims, want %d", i, len(row), dims)
		}
		row = append([]float32(nil), row...)
		embed.Normalize(row)
		data = append(data, row...)
	}
	return NewVectorTable(dims, data, entry, kind)
}

func (b *Builder) contextChars() int {
	if b.ContextChars > 0 {
		return b.ContextChars
	}
	return DefaultContextChars
}

// firstSentence returns the text up to the first sentence end, cut to at most limit runes.
func firstSentence(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.IndexAny(s, ".;!?\n"); i >= 0 {
		s = s[:i]
	}
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return strings.TrimSpace(s)
}
