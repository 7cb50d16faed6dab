// Package segment turns extracted pages into citable chunks.
//
// Segmentation is deterministic: the same pages and options always yield the
// same chunk sequence, ids included. Pages are segmented independently, so a
// chunk never spans a page boundary.
package segment

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/scriptorium/internal/config"
	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Page is the text of one 1-based page.
type Page struct {
	Number int
	Text   string
}

// Options bound chunk sizes, in words.
type Options struct {
	// MaxWords is the size above which a section is split.
	MaxWords int
	// TargetWords is the packing limit for split pieces.
	TargetWords int
	// MinChunkWords is the size below which a trailing piece joins the previous one.
	MinChunkWords int
	// MinWords drops chunks too short to carry meaning.
	MinWords int
}

// DefaultOptions returns 300/250/40/3.
func DefaultOptions() Options {
	return Options{MaxWords: 300, TargetWords: 250, MinChunkWords: 40, MinWords: 3}
}

// FromSettings maps segmenter settings onto Options.
func FromSettings(s config.SegmenterConfig) Options {
	return Options{
		MaxWords:      s.MaxWords,
		TargetWords:   s.TargetWords,
		MinChunkWords: s.MinChunkWords,
		MinWords:      s.MinWords,
	}
}

const sectionBreak = "\x00SECTION\x00"

var (
	breakPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\n\s*\n\s*\n`),
		regexp.MustCompile(`(?m)^[ \t]*-{3,}[ \t]*$`),
		regexp.MustCompile(`(?m)^[ \t]*={3,}[ \t]*$`),
		regexp.MustCompile(`(?m)^[ \t]*\*{3,}[ \t]*$`),
	}

	sectionStart = []*regexp.Regexp{
		regexp.MustCompile(`^\d+\.\s+`),
		regexp.MustCompile(`(?i)^chapter\s+\d+`),
		regexp.MustCompile(`(?i)^part\s+[ivx]+\b`),
		regexp.MustCompile(`^\[.*?\]`),
		regexp.MustCompile(`(?i)^sutta\s+\d+`),
		regexp.MustCompile(`(?i)^thus\s+have\s+i\s+heard`),
		regexp.MustCompile(`(?i)^at\s+one\s+time`),
		regexp.MustCompile(`(?i)^the\s+blessed\s+one\s+said`),
		regexp.MustCompile(`^\*\*.*?\*\*`),
		regexp.MustCompile(`^[A-Z][A-Z\s]{3,}$`),
	}

	suttaReference = regexp.MustCompile(`^\[.*?\]`)
	chapterLine    = regexp.MustCompile(`(?i)^chapter\s+\d+`)
	suttaOpening   = regexp.MustCompile(`(?i)^thus\s+have\s+i\s+heard`)
	boldLine       = regexp.MustCompile(`^\*\*.*?\*\*`)
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
)

// Segmenter splits pages into chunks.
type Segmenter struct {
	opts Options
}

// New creates a Segmenter. Zero fields take their defaults.
func New(opts Options) *Segmenter {
	def := DefaultOptions()
	if opts.MaxWords <= 0 {
		opts.MaxWords = def.MaxWords
	}
	if opts.TargetWords <= 0 || opts.TargetWords > opts.MaxWords {
		opts.TargetWords = min(def.TargetWords, opts.MaxWords)
	}
	if opts.MinChunkWords < 0 {
		opts.MinChunkWords = def.MinChunkWords
	}
	if opts.MinWords <= 0 {
		opts.MinWords = def.MinWords
	}
	return &Segmenter{opts: opts}
}

// Segment returns the ordered chunks of a document. It fails with
// library.ErrNoExtractableText when nothing meaningful survives.
func (s *Segmenter) Segment(filename string, pages []Page) ([]library.Chunk, error) {
	prefix := idPrefix(filename)

	var chunks []library.Chunk
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		for _, section := range splitSections(page.Text) {
			typ := classify(section)
			for _, piece := range s.splitSection(section) {
				if !s.meaningful(piece) {
					continue
				}
				ordinal := len(chunks)
				chunks = append(chunks, library.Chunk{
					ID:       chunkID(prefix, page.Number, ordinal, piece),
					Document: filename,
					Page:     page.Number,
					Ordinal:  ordinal,
					Type:     typ,
					Content:  piece,
					Words:    wordCount(piece),
				})
			}
		}
	}

	if len(chunks) == 0 {
		return nil, &library.IngestionError{
			Filename: filename,
			Reason:   "no meaningful text found",
			Err:      library.ErrNoExtractableText,
		}
	}
	return chunks, nil
}

// splitSections cuts a page at section breaks and glues back fragments that
// do not look like the start of a section.
func splitSections(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, re := range breakPatterns {
		text = re.ReplaceAllString(text, sectionBreak)
	}

	var sections []string
	for _, frag := range strings.Split(text, sectionBreak) {
		if strings.TrimSpace(frag) == "" {
			continue
		}
		if len(sections) == 0 || looksLikeSection(frag) {
			sections = append(sections, frag)
			continue
		}
		sections[len(sections)-1] += "\n" + frag
	}

	out := sections[:0]
	for _, sec := range sections {
		if sec = strings.TrimSpace(sec); sec != "" {
			out = append(out, sec)
		}
	}
	return out
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

func looksLikeSection(text string) bool {
	line := firstLine(text)
	for _, re := range sectionStart {
		if re.MatchString(line) {
			return true
		}
	}
	return len(strings.Fields(line)) <= 10 && strings.IndexFunc(line, unicode.IsUpper) >= 0
}

// classify assigns the chunk type from the first line, then the content.
func classify(section string) string {
	line := firstLine(section)
	switch {
	case suttaReference.MatchString(line):
		return library.ChunkSuttaReference
	case chapterLine.MatchString(line):
		return library.ChunkChapter
	case suttaOpening.MatchString(line):
		return library.ChunkSuttaOpening
	case strings.Contains(section, "The Blessed One said"), strings.Contains(section, "The Buddha said"):
		return library.ChunkBuddhaTeaching
	}
	lower := strings.ToLower(section)
	for _, marker := range []string{"question", "asked", "reply"} {
		if strings.Contains(lower, marker) {
			return library.ChunkDialogue
		}
	}
	if boldLine.MatchString(line) {
		return library.ChunkHeading
	}
	return library.ChunkGeneral
}

// splitSection returns the section whole when it fits, otherwise pieces of
// at most TargetWords built from paragraphs and, for oversized paragraphs,
// sentences.
func (s *Segmenter) splitSection(section string) []string {
	if wordCount(section) <= s.opts.MaxWords {
		return []string{section}
	}

	var units []string
	for _, para := range paragraphBreak.Split(section, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if wordCount(para) > s.opts.MaxWords {
			units = append(units, packSentences(splitSentences(para), s.opts.TargetWords)...)
			continue
		}
		units = append(units, para)
	}

	var pieces []string
	var current string
	for _, u := range units {
		switch {
		case current == "":
			current = u
		case wordCount(current)+wordCount(u) <= s.opts.TargetWords:
			current += "\n\n" + u
		default:
			pieces = append(pieces, current)
			current = u
		}
	}
	if current != "" {
		pieces = append(pieces, current)
	}

	if n := len(pieces); n > 1 {
		last, prev := wordCount(pieces[n-1]), wordCount(pieces[n-2])
		if last < s.opts.MinChunkWords && prev+last <= s.opts.MaxWords {
			pieces[n-2] += "\n\n" + pieces[n-1]
			pieces = pieces[:n-1]
		}
	}
	return pieces
}

// packSentences joins sentences into groups of at most limit words. A single
// sentence longer than limit forms its own group.
func packSentences(sentences []string, limit int) []string {
	var groups []string
	var current []string
	words := 0
	for _, sent := range sentences {
		n := wordCount(sent)
		if len(current) > 0 && words+n > limit {
			groups = append(groups, strings.Join(current, " "))
			current, words = nil, 0
		}
		current = append(current, sent)
		words += n
	}
	if len(current) > 0 {
		groups = append(groups, strings.Join(current, " "))
	}
	return groups
}

// splitSentences cuts after '.', '!' or '?' (plus closing quotes or
// brackets) when followed by whitespace.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && strings.ContainsRune(`"'”’)]`, runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if sent := strings.TrimSpace(string(runes[start:end])); sent != "" {
			out = append(out, sent)
		}
		start = end
		i = end - 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

// meaningful drops short fragments and spans that are mostly punctuation
// or numbers.
func (s *Segmenter) meaningful(text string) bool {
	if wordCount(text) < s.opts.MinWords {
		return false
	}
	var letters, total int
	for _, r := range text {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return total > 0 && float64(letters)/float64(total) >= 0.5
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func idPrefix(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return hex.EncodeToString(sum[:])[:8]
}

func chunkID(prefix string, page, ordinal int, content string) string {
	sum := md5.Sum([]byte(content))
	return fmt.Sprintf("%s_p%d_%d_%s", prefix, page, ordinal, hex.EncodeToString(sum[:])[:8])
}
