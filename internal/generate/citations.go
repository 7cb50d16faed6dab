package generate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

var (
	// [Source: f.pdf, page 3], [Source: f.pdf, p. 3]
	sourceMarker = regexp.MustCompile(`(?i)\[\s*source:\s*([^,\[\]]+?)\s*,\s*(?:page|pg\.?|p\.)\s*(\d+)\s*\]`)
	// (f.pdf, p. 3)
	parenMarker = regexp.MustCompile(`(?i)\(\s*([^,()\s][^,()]*?\.(?:pdf|txt|md))\s*,\s*(?:page|pg\.?|p\.)\s*(\d+)\s*\)`)
	// [f.pdf, pg. 3]
	bracketMarker = regexp.MustCompile(`(?i)\[\s*([^,\[\]]+?)\s*,\s*(?:page|pg\.?|p\.)\s*(\d+)\s*\]`)
	// [Passage 2]
	passageMarker = regexp.MustCompile(`(?i)\[\s*passage\s+(\d+)\s*\]`)
)

func canonical(filename, page string) string {
	return "[" + strings.TrimSpace(filename) + ", page " + page + "]"
}

// NormalizeCitations rewrites inline citation markers to the canonical
// "[<filename>, page <n>]" form and returns the citations the text
// references, in citation order. Passage numbers refer to citations.
func NormalizeCitations(text string, citations []library.Citation) (string, []library.Citation) {
	text = passageMarker.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(passageMarker.FindStringSubmatch(m)[1])
		if err != nil || n < 1 || n > len(citations) {
			return m
		}
		return "[" + citations[n-1].Citation + "]"
	})
	for _, re := range []*regexp.Regexp{sourceMarker, parenMarker, bracketMarker} {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			sub := re.FindStringSubmatch(m)
			return canonical(sub[1], sub[2])
		})
	}

	lower := strings.ToLower(text)
	cited := make([]library.Citation, 0, len(citations))
	for _, c := range citations {
		if strings.Contains(lower, "["+strings.ToLower(c.Citation)+"]") {
			cited = append(cited, c)
		}
	}
	return text, cited
}
