package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors. Typed errors below wrap them so callers can use errors.Is.
var (
	// ErrUnsupportedFormat is returned for inputs that are neither PDF nor text.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptDocument is returned when a document cannot be parsed.
	ErrCorruptDocument = errors.New("document is unreadable or corrupt")

	// ErrNoExtractableText is returned for image-only or empty documents.
	ErrNoExtractableText = errors.New("no extractable text")

	// ErrDocumentExists is returned when ingesting a filename already in the library.
	ErrDocumentExists = errors.New("document already exists")

	// ErrDocumentNotFound is returned for operations on unknown filenames.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidArgument is returned for invalid query arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProviderFailed is wrapped by every ProviderError.
	ErrProviderFailed = errors.New("language model provider failed")

	// ErrInvalidConfig is wrapped by every ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IngestionError reports a document that could not be ingested.
// No partial document is left behind when it is returned.
type IngestionError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *IngestionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ingest %s: %s", e.Filename, e.Reason)
	}
	return fmt.Sprintf("ingest %s: %v", e.Filename, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IndexError reports per-chunk embedding or storage failures.
type IndexError struct {
	Op     string
	Stored []string
	Failed map[string]error
}

func (e *IndexError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 3 {
		ids = append(ids[:3], "...")
	}
	return fmt.Sprintf("index %s: %d chunk(s) failed (%s), %d stored",
		e.Op, len(e.Failed), strings.Join(ids, ", "), len(e.Stored))
}

// FirstFailure returns one underlying chunk error in a deterministic way.
func (e *IndexError) FirstFailure() error {
	var first string
	for id := range e.Failed {
		if first == "" || id < first {
			first = id
		}
	}
	if first == "" {
		return nil
	}
	return e.Failed[first]
}

// RetrievalError reports invalid retrieval arguments.
type RetrievalError struct {
	Reason string
}

func (e *RetrievalError) Error() string {
	return "retrieval: " + e.Reason
}

func (e *RetrievalError) Unwrap() error { return ErrInvalidArgument }

// ProviderErrorKind classifies provider failures.
type ProviderErrorKind string

// Provider failure kinds.
const (
	ProviderAuth        ProviderErrorKind = "auth"
	ProviderRateLimit   ProviderErrorKind = "rate_limit"
	ProviderTimeout     ProviderErrorKind = "timeout"
	ProviderMalformed   ProviderErrorKind = "malformed"
	ProviderUnavailable ProviderErrorKind = "unavailable"
	ProviderQuota       ProviderErrorKind = "quota"
	ProviderExhausted   ProviderErrorKind = "exhausted"
)

// ProviderError reports a failed language model call.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderFailed}
	}
	return []error{ErrProviderFailed, e.Err}
}

// ConfigError reports a configuration rejected at configuration time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
