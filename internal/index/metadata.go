package index

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// Metadata keys stored with every vector.
const (
	metaDocument    = "document"
	metaPage        = "page"
	metaType        = "type"
	metaSeq         = "seq"
	metaTerms       = "terms"
	metaAnnotations = "annotations"
	metaAddedAt     = "added_at"
)

func chunkMetadata(c library.Chunk, seq int64, addedAt time.Time) (map[string]string, error) {
	annotations := c.Annotations
	if annotations == nil {
		annotations = []library.Annotation{}
	}
	encoded, err := json.Marshal(annotations)
	if err != nil {
		return nil, fmt.Errorf("encoding annotations: %w", err)
	}
	return map[string]string{
		metaDocument:    c.Document,
		metaPage:        strconv.Itoa(c.Page),
		metaType:        c.Type,
		metaSeq:         strconv.FormatInt(seq, 10),
		metaTerms:       strconv.Itoa(c.DistinctTerms()),
		metaAnnotations: string(encoded),
		metaAddedAt:     strconv.FormatInt(addedAt.Unix(), 10),
	}, nil
}
