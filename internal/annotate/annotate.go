package annotate

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// CategoryGlossary is assigned to terms with no recognizable category.
const CategoryGlossary = "glossary_term"

// Confidence scores a match of a form with the given word count. Longer
// phrases score higher, and the canonical name beats an alias.
func Confidence(weight float64, words int, canonical bool) float64 {
	extra := min(max(words-1, 0), 3)
	c := weight * (0.7 + 0.1*float64(extra))
	if canonical {
		c += 0.05
	}
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*1000) / 1000
}

// Annotate returns the terms found in text, one annotation per term with the
// best confidence among its matching forms, ordered by confidence descending
// then term ascending.
func (v *Vocabulary) Annotate(text string) []library.Annotation {
	if text == "" || len(v.forms) == 0 {
		return nil
	}

	best := map[int]float64{}
	for _, f := range v.forms {
		if !f.re.MatchString(text) {
			continue
		}
		c := Confidence(v.terms[f.term].Weight, f.words, f.canonical)
		if prev, ok := best[f.term]; !ok || c > prev {
			best[f.term] = c
		}
	}
	if len(best) == 0 {
		return nil
	}

	out := make([]library.Annotation, 0, len(best))
	for i, c := range best {
		t := v.terms[i]
		out = append(out, library.Annotation{
			Term:       t.Name,
			Category:   t.Category,
			Confidence: c,
			Definition: t.Definition,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Term < out[j].Term
	})
	return out
}

// AnnotateChunks returns copies of chunks with Annotations set. The input
// slice is not modified.
func (v *Vocabulary) AnnotateChunks(chunks []library.Chunk) []library.Chunk {
	out := make([]library.Chunk, len(chunks))
	for i, c := range chunks {
		c.Annotations = v.Annotate(c.Content)
		out[i] = c
	}
	return out
}
