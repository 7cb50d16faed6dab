package annotate

import (
	"regexp"
	"strings"
)

const glossaryWeight = 0.9

var (
	glossaryHeading = regexp.MustCompile(`(?i)^\s*(?:#+\s*|\*\*)?glossary(?:\s+of\s+terms)?(?:\*\*)?\s*:?\s*$`)
	glossaryEntry   = regexp.MustCompile(`^\s*(?:[-*•]\s+)?(?:\*\*)?([\p{L}][\p{L}\p{M}'’ -]{0,58}?)(?:\*\*)?\s*(?::|\s[–—-]\s)\s*(.+)$`)
)

// categoryKeywords decides the category of a glossary term by the first
// keyword found in its name or definition. Order matters.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"meditation_practice", []string{"meditation", "mindfulness", "awareness", "concentration", "jhana", "samadhi", "vipassana", "samatha"}},
	{"core_doctrine", []string{"truth", "path", "noble", "suffering", "cessation", "origin", "nirvana"}},
	{"philosophical_concept", []string{"emptiness", "impermanence", "non-self", "interdependence", "dependent", "nature"}},
	{"being_or_person", []string{"buddha", "bodhisattva", "arhat", "monk", "nun", "practitioner", "teacher"}},
	{"scripture_or_text", []string{"sutra", "sutta", "text", "scripture", "teaching", "discourse", "commentary"}},
	{"practice_or_virtue", []string{"compassion", "wisdom", "generosity", "ethics", "precept", "virtue", "conduct"}},
	{"place_or_realm", []string{"realm", "world", "paradise", "monastery", "temple", "place"}},
}

// Categorize returns the category implied by a term and its definition.
func Categorize(name, definition string) string {
	text := strings.ToLower(name + " " + definition)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.category
			}
		}
	}
	return CategoryGlossary
}

// ExtractGlossary parses the glossary section of a document, if any. The
// section starts at a line reading "Glossary" and holds "Term: definition"
// or "Term – definition" entries. Indented lines continue the previous
// definition. The section ends at a blank run of two lines or at the first
// line that is neither an entry nor a continuation.
func ExtractGlossary(text string) []Term {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := -1
	for i, l := range lines {
		if glossaryHeading.MatchString(l) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	var (
		terms  []Term
		seen   = map[string]bool{}
		blanks int
	)
	flush := func(t *Term) {
		t.Definition = strings.Join(strings.Fields(t.Definition), " ")
		key := strings.ToLower(t.Name)
		if t.Name == "" || t.Definition == "" || seen[key] {
			return
		}
		seen[key] = true
		t.Category = Categorize(t.Name, t.Definition)
		terms = append(terms, *t)
	}

	var cur *Term
	for _, l := range lines[start:] {
		if strings.TrimSpace(l) == "" {
			blanks++
			if blanks >= 2 && cur != nil {
				break
			}
			continue
		}
		blanks = 0

		if m := glossaryEntry.FindStringSubmatch(l); m != nil && !startsIndented(l) {
			if cur != nil {
				flush(cur)
			}
			cur = &Term{
				Name:       strings.TrimSpace(m[1]),
				Weight:     glossaryWeight,
				Definition: m[2],
			}
			continue
		}
		if cur != nil && startsIndented(l) {
			cur.Definition += " " + strings.TrimSpace(l)
			continue
		}
		if cur != nil {
			break
		}
	}
	if cur != nil {
		flush(cur)
	}
	return terms
}

func startsIndented(l string) bool {
	return strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")
}
