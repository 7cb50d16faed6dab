package segment

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// words returns n words of readable filler.
func words(n int) string {
	vocab := []string{"mindful", "breathing", "calms", "the", "body", "and", "steadies", "attention"}
	out := make([]string, n)
	for i := range out {
		out[i] = vocab[i%len(vocab)]
	}
	return strings.Join(out, " ")
}

// sentences returns n sentences of size words each.
func sentences(n, size int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = words(size-1) + " today."
	}
	return strings.Join(out, " ")
}

func TestSegment_Deterministic(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "Chapter 1\n" + words(120) + "\n\n\n\nChapter 2\n" + words(80)},
		{Number: 2, Text: "Thus have I heard. " + words(60)},
	}
	s := New(DefaultOptions())

	a, err := s.Segment("suttas.pdf", pages)
	require.NoError(t, err)
	b, err := s.Segment("suttas.pdf", pages)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.Len(t, a, 3)
	assert.Equal(t, library.ChunkChapter, a[0].Type)
	assert.Equal(t, library.ChunkChapter, a[1].Type)
	assert.Equal(t, library.ChunkSuttaOpening, a[2].Type)
	for i, c := range a {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "suttas.pdf", c.Document)
	}
}

func TestSegment_ChunksNeverSpanPages(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "The first page speaks of " + words(50)},
		{Number: 2, Text: "   \n  "},
		{Number: 3, Text: "The third page speaks of " + words(50)},
	}
	chunks, err := New(DefaultOptions()).Segment("a.txt", pages)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[1].Page)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "The third page"))
	assert.Equal(t, "a.txt, page 3", chunks[1].Citation())
}

func TestSegment_ChunkIDFormat(t *testing.T) {
	chunks, err := New(DefaultOptions()).Segment("dhammapada.pdf", []Page{{Number: 7, Text: "Mind precedes all things. " + words(20)}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}_p7_0_[0-9a-f]{8}$`), chunks[0].ID)

	other, err := New(DefaultOptions()).Segment("other.pdf", []Page{{Number: 7, Text: "Mind precedes all things. " + words(20)}})
	require.NoError(t, err)
	assert.NotEqual(t, chunks[0].ID, other[0].ID, "ids are unique across documents")
}

func TestSegment_PacksParagraphs(t *testing.T) {
	paras := make([]string, 6)
	for i := range paras {
		paras[i] = words(100)
	}
	section := "On practice\n" + strings.Join(paras, "\n\n")

	chunks, err := New(DefaultOptions()).Segment("p.txt", []Page{{Number: 1, Text: section}})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, c.Words, 250)
		total += c.Words
	}
	assert.Equal(t, 602, total)
}

func TestSegment_SplitsLongParagraphAtSentences(t *testing.T) {
	text := sentences(40, 10)

	chunks, err := New(DefaultOptions()).Segment("s.txt", []Page{{Number: 1, Text: text}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 250, chunks[0].Words)
	assert.Equal(t, 150, chunks[1].Words)
	for _, c := range chunks {
		assert.True(t, strings.HasSuffix(c.Content, "today."), "never cut mid-sentence")
	}
}

func TestSegment_KeepsOversizedSentenceWhole(t *testing.T) {
	text := words(349) + " end."
	chunks, err := New(DefaultOptions()).Segment("long.txt", []Page{{Number: 1, Text: text}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 350, chunks[0].Words)
}

func TestSegment_MergesSmallTrailingPiece(t *testing.T) {
	text := "intro\n" + words(239) + "\n\n" + words(240) + "\n\n" + words(30)

	chunks, err := New(DefaultOptions()).Segment("m.txt", []Page{{Number: 1, Text: text}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 240, chunks[0].Words)
	assert.Equal(t, 270, chunks[1].Words)
}

func TestSegment_FiltersNoise(t *testing.T) {
	pages := []Page{{Number: 1, Text: "12 34 56 78 90 11 22 33\n\n\n\nOk."}}
	_, err := New(DefaultOptions()).Segment("noise.txt", pages)
	require.Error(t, err)
	assert.True(t, errors.Is(err, library.ErrNoExtractableText))

	var ierr *library.IngestionError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "noise.txt", ierr.Filename)
}

func TestSplitSections_RulesOnOwnLine(t *testing.T) {
	for _, text := range []string{
		"Metta is goodwill toward all beings --- Chapter 2 begins here",
		"The years 1990===2000 saw Chapter 3 printed",
		"Rest here *** Part II follows",
	} {
		assert.Equal(t, []string{text}, splitSections(text), "a rule inside a line is text")
	}

	for _, rule := range []string{"---", "  =====  ", "***"} {
		text := "Metta is goodwill toward all beings.\n" + rule + "\nChapter 2 begins here."
		assert.Equal(t, []string{"Metta is goodwill toward all beings.", "Chapter 2 begins here."},
			splitSections(text), "rule %q", rule)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"bracketed reference", "[MN 10] Satipatthana Sutta\nThe four foundations.", library.ChunkSuttaReference},
		{"chapter", "Chapter 3\nOn the path.", library.ChunkChapter},
		{"sutta opening", "Thus have I heard. At one time the Lord dwelt at Savatthi.", library.ChunkSuttaOpening},
		{"teaching", "Later that day.\nThe Blessed One said: be a lamp unto yourselves.", library.ChunkBuddhaTeaching},
		{"dialogue", "Then Ananda asked about the path.", library.ChunkDialogue},
		{"bold heading", "**On Mindfulness**\nBreathing in, one knows.", library.ChunkHeading},
		{"general", "Breathing in, one knows one is breathing in.", library.ChunkGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.text))
		})
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences(`He said "Go." Then he left! Did he return? Yes, at 3.5 hours.`)
	assert.Equal(t, []string{`He said "Go."`, "Then he left!", "Did he return?", "Yes, at 3.5 hours."}, got)
}

func TestNew_FillsDefaults(t *testing.T) {
	s := New(Options{MaxWords: 100})
	assert.Equal(t, Options{MaxWords: 100, TargetWords: 100, MinChunkWords: 0, MinWords: 3}, s.opts)
}
