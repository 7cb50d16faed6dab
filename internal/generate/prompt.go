package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

// SystemInstruction frames every answer.
const SystemInstruction = `You are a careful, respectful guide to Buddhist texts. You help the reader understand the passages of their own library.

Follow these rules:
1. Treat every teaching with care and do not flatten subtle ideas.
2. Answer from the source passages provided. When they do not cover the question, say so plainly.
3. Cite every claim with the format [Source: <filename>, page <n>], using the filename and page shown for the passage.
4. When traditions differ (Theravada, Mahayana, Zen, Tibetan), name the perspective you are describing.
5. If an interpretation is uncertain or the passages are unclear, say so rather than guess.`

// NoSourcesAnswer is returned, without calling any provider, when
// retrieval finds nothing.
const NoSourcesAnswer = "No relevant source material was found in your library for this question. " +
	"Try rephrasing it, or add texts that cover this topic."

const passageSeparator = "\n---\n"

var typeLabels = map[string]string{
	library.ChunkSuttaOpening:   "Sutta Opening",
	library.ChunkBuddhaTeaching: "Buddha's Teaching",
	library.ChunkDialogue:       "Dialogue",
	library.ChunkChapter:        "Chapter",
}

// passageBlock renders one passage: its header line, then its content.
func passageBlock(i int, c library.Citation) string {
	header := fmt.Sprintf("Passage %d: %s", i, c.Citation)
	if label, ok := typeLabels[c.Type]; ok {
		header += " [" + label + "]"
	}
	return header + "\n" + strings.TrimSpace(c.Content) + "\n"
}

// BuildPrompt renders the question and as many citations as fit in
// maxChars of passage text. It returns the prompt and the number of
// citations placed in it; later citations are dropped first. The first
// passage is always placed, clipped if it alone exceeds the budget.
func BuildPrompt(question string, citations []library.Citation, maxChars int) (providers.Prompt, int) {
	var (
		blocks []string
		used   int
	)
	for i, c := range citations {
		block := passageBlock(i+1, c)
		size := utf8.RuneCountInString(block)
		if len(blocks) > 0 {
			size += len(passageSeparator)
		}
		if used+size > maxChars {
			if len(blocks) == 0 {
				blocks = append(blocks, clip(block, maxChars))
			}
			break
		}
		blocks = append(blocks, block)
		used += size
	}

	var b strings.Builder
	b.WriteString("Based on the following passages from the library, answer the question with citations.\n\n")
	b.WriteString("Source Passages:\n")
	b.WriteString(strings.Join(blocks, passageSeparator))
	if dropped := len(citations) - len(blocks); dropped > 0 {
		fmt.Fprintf(&b, "\n(%d further passage(s) omitted to fit the context window.)\n", dropped)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\n", strings.TrimSpace(question))
	b.WriteString("Cite passages as [Source: filename, page N]. If the passages do not fully answer the question, " +
		"acknowledge this and suggest what further study might help.")

	return providers.Prompt{System: SystemInstruction, User: b.String()}, len(blocks)
}

// SummaryPrompt renders the document summary request from the first
// chunks of a document.
func SummaryPrompt(filename string, chunks []library.Chunk) providers.Prompt {
	pages := map[int]struct{}{}
	var sample strings.Builder
	for _, c := range chunks {
		sample.WriteString(clip(c.Content, summaryExcerptRunes))
		sample.WriteString("\n\n")
		pages[c.Page] = struct{}{}
	}

	user := fmt.Sprintf(`Based on the following sample content from %q (approximately %d pages), write a brief summary of this text:

%s
Cover:
1. The main themes of the text
2. Its apparent Buddhist tradition or style
3. Key teachings or concepts present
4. Its likely intended audience or purpose

Keep the summary concise but informative.`, filename, len(pages), sample.String())

	return providers.Prompt{System: SystemInstruction, User: user}
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
