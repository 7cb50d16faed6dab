package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultLexicalDimension is the vector width of the lexical embedder.
	DefaultLexicalDimension = 384

	lexicalModel = "lexical-hash-v1"

	trigramWeight = 0.35
)

// stopwords excludes single letters so labels like "part A" stay distinct.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`an and are as at be but by for from has have he her his
		in is it its of on or our she so that the their them then there these they this
		to was we were what when where which who why will with you your do does did how not
		no all any can into than about`) {
		stopwords[w] = struct{}{}
	}
}

// Lexical is a deterministic feature-hashing embedder. Each content word and
// its character trigrams are hashed into a fixed number of buckets with a
// sign bit, and the result is L2 normalized. It needs no model files, so it
// serves offline libraries and tests. Related inflections ("truth",
// "truths") share trigrams and land close together.
type Lexical struct {
	dim int
}

// NewLexical returns a lexical embedder of the given dimension, or the
// default dimension when dim is not positive.
func NewLexical(dim int) *Lexical {
	if dim <= 0 {
		dim = DefaultLexicalDimension
	}
	return &Lexical{dim: dim}
}

// EmbedDocuments embeds every text.
func (l *Lexical) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds one text.
func (l *Lexical) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.embed(text), nil
}

// Model names the embedding space, dimension included.
func (l *Lexical) Model() string { return fmt.Sprintf("%s-%d", lexicalModel, l.dim) }

// Dimension returns the vector width.
func (l *Lexical) Dimension() int { return l.dim }

// Close is a no-op.
func (l *Lexical) Close() error { return nil }

func (l *Lexical) embed(text string) []float32 {
	vec := make([]float64, l.dim)
	words := tokenize(text)
	if len(words) == 0 {
		// Punctuation-only input still gets a stable, non-zero vector.
		words = []string{strings.TrimSpace(text)}
	}
	for _, w := range words {
		l.add(vec, "w:"+w, 1)
		padded := "^" + w + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			l.add(vec, "t:"+string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm2 float64
	for _, v := range vec {
		norm2 += v * v
	}
	out := make([]float32, l.dim)
	if norm2 == 0 {
		out[0] = 1
		return out
	}
	inv := 1 / math.Sqrt(norm2)
	for i, v := range vec {
		out[i] = float32(v * inv)
	}
	return out
}

func (l *Lexical) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(l.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lowercases, strips diacritics and drops stopwords, so "Nibbāna"
// and "nibbana" are the same word.
func tokenize(text string) []string {
	folded := foldDiacritics(strings.ToLower(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func foldDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
