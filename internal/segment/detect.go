package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Languages reported by DetectLanguage.
const (
	LanguagePali     = "theravada_pali"
	LanguageSanskrit = "mahayana_sanskrit"
	LanguageEnglish  = "english_general"
)

// Traditions reported by EstimateTradition.
const (
	TraditionTheravada = "theravada"
	TraditionMahayana  = "mahayana"
	TraditionZen       = "zen"
	TraditionTibetan   = "tibetan"
	TraditionGeneral   = "general_buddhist"
)

var (
	paliTerms = wordMatchers("dhamma", "sutta", "vinaya", "abhidhamma", "nirvana", "samsara",
		"karma", "jhana", "vipassana", "samadhi", "metta", "mudita",
		"karuna", "upekkha", "anicca", "dukkha", "anatta")
	sanskritTerms = wordMatchers("dharma", "sutra", "nirvana", "samsara", "karma", "dhyana",
		"vipashyana", "samadhi", "maitri", "mudita", "karuna",
		"upeksha", "anitya", "duhkha", "anatman")

	// traditionIndicators is ordered: ties go to the earlier tradition.
	traditionIndicators = []struct {
		name  string
		terms []string
	}{
		{TraditionTheravada, []string{"sutta", "vinaya", "abhidhamma", "bhikkhu", "nibbana", "vipassana"}},
		{TraditionMahayana, []string{"sutra", "bodhisattva", "emptiness", "compassion", "wisdom"}},
		{TraditionZen, []string{"koan", "zazen", "satori", "zen", "dharma transmission"}},
		{TraditionTibetan, []string{"lama", "tulku", "bardo", "tantra", "vajrayana"}},
	}
)

func wordMatchers(terms ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(terms))
	for i, t := range terms {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `\b`)
	}
	return out
}

func countPresent(lower string, matchers []*regexp.Regexp) int {
	n := 0
	for _, re := range matchers {
		if re.MatchString(lower) {
			n++
		}
	}
	return n
}

// DetectLanguage compares how many distinct Pali and Sanskrit technical
// terms the text uses.
func DetectLanguage(text string) string {
	lower := strings.ToLower(text)
	pali, sanskrit := countPresent(lower, paliTerms), countPresent(lower, sanskritTerms)
	switch {
	case pali > sanskrit:
		return LanguagePali
	case sanskrit > pali:
		return LanguageSanskrit
	default:
		return LanguageEnglish
	}
}

// EstimateTradition picks the tradition with the most indicator terms
// present as substrings.
func EstimateTradition(text string) string {
	lower := strings.ToLower(text)
	best, bestScore := TraditionGeneral, 0
	for _, ind := range traditionIndicators {
		score := 0
		for _, term := range ind.terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ind.name, score
		}
	}
	return best
}

// Hash returns the first 16 hex chars of the sha256 of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Describe fills the document-level fields derived from the page text.
// Chunks and AddedAt are left to the caller.
func Describe(filename string, pages []Page) library.Document {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(p.Text)
		b.WriteByte('\f')
	}
	full := b.String()

	last := 0
	for _, p := range pages {
		last = max(last, p.Number)
	}
	return library.Document{
		Filename:  filename,
		Pages:     last,
		Language:  DetectLanguage(full),
		Tradition: EstimateTradition(full),
		Hash:      Hash(full),
	}
}
