// Package library holds the domain model shared by every scriptorium
// component: documents, chunks, term annotations and citations, plus the
// error taxonomy surfaced at the engine boundary.
package library

import (
	"fmt"
	"time"
)

// Chunk types produced by the segmenter. The set is closed.
const (
	ChunkGeneral        = "general"
	ChunkSuttaReference = "sutta_reference"
	ChunkChapter        = "chapter"
	ChunkSuttaOpening   = "sutta_opening"
	ChunkBuddhaTeaching = "buddha_teaching"
	ChunkDialogue       = "dialogue"
	ChunkHeading        = "heading"
)

// ChunkTypes lists every chunk type in a stable order.
var ChunkTypes = []string{
	ChunkGeneral,
	ChunkSuttaReference,
	ChunkChapter,
	ChunkSuttaOpening,
	ChunkBuddhaTeaching,
	ChunkDialogue,
	ChunkHeading,
}

// Document is an ingested source text. Filename is the library-wide key.
type Document struct {
	Filename  string    `json:"filename"`
	Pages     int       `json:"pages"`
	Chunks    int       `json:"chunks"`
	Language  string    `json:"language"`
	Tradition string    `json:"tradition"`
	Hash      string    `json:"document_hash"`
	AddedAt   time.Time `json:"added_date"`
}

// Chunk is a contiguous span of extracted text.
type Chunk struct {
	ID          string       `json:"id"`
	Document    string       `json:"document"`
	Page        int          `json:"page"`
	Ordinal     int          `json:"ordinal"`
	Type        string       `json:"chunk_type"`
	Content     string       `json:"content"`
	Words       int          `json:"word_count"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Citation returns the canonical citation string of the chunk.
func (c Chunk) Citation() string {
	return FormatCitation(c.Document, c.Page)
}

// DistinctTerms counts distinct annotated terms.
func (c Chunk) DistinctTerms() int {
	seen := make(map[string]struct{}, len(c.Annotations))
	for _, a := range c.Annotations {
		seen[a.Term] = struct{}{}
	}
	return len(seen)
}

// Annotation marks a domain term recognized inside a chunk.
type Annotation struct {
	Term       string  `json:"term"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Definition string  `json:"definition,omitempty"`
}

// Citation is a ranked source passage returned with an answer.
type Citation struct {
	ChunkID     string       `json:"chunk_id"`
	Document    string       `json:"source_file"`
	Page        int          `json:"page_number"`
	Type        string       `json:"chunk_type"`
	Content     string       `json:"content"`
	Citation    string       `json:"citation"`
	Score       float64      `json:"similarity_score"`
	Annotations []Annotation `json:"annotations"`
	Similar     []Passage    `json:"similar_passages,omitempty"`
}

// Passage is a short related excerpt attached to a citation.
type Passage struct {
	Content  string `json:"content"`
	Citation string `json:"citation"`
}

// FormatCitation renders the fixed "<filename>, page <n>" form.
func FormatCitation(filename string, page int) string {
	return fmt.Sprintf("%s, page %d", filename, page)
}
