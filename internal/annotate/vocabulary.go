// Package annotate recognizes domain terms inside chunk text.
//
// A Vocabulary is an immutable table of terms with aliases. Annotate is a
// pure function of (text, vocabulary): the same input always yields the same
// annotations in the same order.
package annotate

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed vocabulary.toml
var defaultVocabulary []byte

// Term is one vocabulary entry.
type Term struct {
	Name       string   `toml:"name"`
	Category   string   `toml:"category"`
	Weight     float64  `toml:"weight"`
	Aliases    []string `toml:"aliases"`
	Definition string   `toml:"definition"`
	Related    []string `toml:"related"`
}

type form struct {
	term      int
	words     int
	canonical bool
	re        *regexp.Regexp
}

// Vocabulary is a compiled term table. It is safe for concurrent use.
type Vocabulary struct {
	terms  []Term
	byName map[string]int
	forms  []form
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
)

// Default returns the curated vocabulary embedded in the binary.
func Default() *Vocabulary {
	defaultOnce.Do(func() {
		v, err := Parse(defaultVocabulary)
		if err != nil {
			panic(fmt.Sprintf("annotate: embedded vocabulary: %v", err))
		}
		defaultVocab = v
	})
	return defaultVocab
}

// Parse reads a TOML table of [[term]] entries.
func Parse(data []byte) (*Vocabulary, error) {
	var file struct {
		Term []Term `toml:"term"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, fmt.Errorf("decoding vocabulary: %w", err)
	}
	return New(file.Term)
}

// New compiles terms. Names must be unique (case-insensitive) and weights
// in (0, 1].
func New(terms []Term) (*Vocabulary, error) {
	v := &Vocabulary{byName: make(map[string]int, len(terms))}
	for _, t := range terms {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("term with empty name")
		}
		if t.Weight <= 0 || t.Weight > 1 {
			return nil, fmt.Errorf("term %q: weight must be in (0, 1], got %v", t.Name, t.Weight)
		}
		key := strings.ToLower(t.Name)
		if _, dup := v.byName[key]; dup {
			return nil, fmt.Errorf("duplicate term %q", t.Name)
		}
		if t.Category == "" {
			t.Category = CategoryGlossary
		}
		v.byName[key] = len(v.terms)
		v.terms = append(v.terms, t)
	}
	v.compile()
	return v, nil
}

func (v *Vocabulary) compile() {
	v.forms = v.forms[:0]
	for i, t := range v.terms {
		seen := map[string]bool{}
		for j, f := range append([]string{t.Name}, t.Aliases...) {
			f = strings.TrimSpace(f)
			key := strings.ToLower(f)
			if f == "" || seen[key] {
				continue
			}
			seen[key] = true
			v.forms = append(v.forms, form{
				term:      i,
				words:     len(strings.Fields(f)),
				canonical: j == 0,
				re:        formPattern(f),
			})
		}
	}
}

// formPattern matches f case-insensitively as a whole word or phrase. Word
// boundaries are Unicode letters and digits, so diacritics work.
func formPattern(f string) *regexp.Regexp {
	parts := strings.Fields(f)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])` + strings.Join(parts, `\s+`) + `(?:$|[^\p{L}\p{N}])`)
}

// With returns a new vocabulary with extra terms layered on top. A term
// already present keeps its entry, but gains the extra definition when it
// had none. The receiver is not modified.
func (v *Vocabulary) With(extra []Term) *Vocabulary {
	if len(extra) == 0 {
		return v
	}
	out := &Vocabulary{
		terms:  append([]Term(nil), v.terms...),
		byName: make(map[string]int, len(v.terms)+len(extra)),
	}
	for k, i := range v.byName {
		out.byName[k] = i
	}
	for _, t := range extra {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" || t.Weight <= 0 || t.Weight > 1 {
			continue
		}
		key := strings.ToLower(t.Name)
		if i, ok := out.byName[key]; ok {
			if out.terms[i].Definition == "" && t.Definition != "" {
				out.terms[i].Definition = t.Definition
			}
			continue
		}
		if t.Category == "" {
			t.Category = CategoryGlossary
		}
		out.byName[key] = len(out.terms)
		out.terms = append(out.terms, t)
	}
	out.compile()
	return out
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Terms returns a copy of every term in table order.
func (v *Vocabulary) Terms() []Term {
	return append([]Term(nil), v.terms...)
}

// Lookup finds a term by canonical name or alias, case-insensitively.
func (v *Vocabulary) Lookup(name string) (Term, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if i, ok := v.byName[key]; ok {
		return v.terms[i], true
	}
	for _, t := range v.terms {
		for _, a := range t.Aliases {
			if strings.ToLower(a) == key {
				return t, true
			}
		}
	}
	return Term{}, false
}

// Related returns the related terms of name that exist in the vocabulary.
func (v *Vocabulary) Related(name string) []string {
	t, ok := v.Lookup(name)
	if !ok {
		return nil
	}
	var out []string
	for _, r := range t.Related {
		if rt, ok := v.Lookup(r); ok {
			out = append(out, rt.Name)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (v *Vocabulary) Categories() []string {
	set := map[string]struct{}{}
	for _, t := range v.terms {
		set[t.Category] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
