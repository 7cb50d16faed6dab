// Package secrets redacts credentials from text before it reaches logs,
// error messages, or API responses.
package secrets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Redaction replaces every detected credential.
const Redaction = "[REDACTED]"

// Finding is one detected credential.
type Finding struct {
	RuleID string
	Start  int
	End    int
}

// Result is the outcome of scrubbing one string.
type Result struct {
	Text     string
	Findings []Finding
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool { return len(r.Findings) > 0 }

type compiledRule struct {
	id       string
	re       *regexp.Regexp
	keywords []string
}

// Scrubber redacts credentials. It is safe for concurrent use.
type Scrubber struct {
	rules []compiledRule
	// literals are exact values, typically configured API keys.
	literals []string
	// deep adds a gitleaks scan with its default rule set.
	deep bool
}

// New compiles rules. Literal values are redacted wherever they occur,
// regardless of shape.
func New(rules []Rule, literals ...string) (*Scrubber, error) {
	s := &Scrubber{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			kws[i] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, re: re, keywords: kws})
	}
	for _, l := range literals {
		// Short literals would redact ordinary words.
		if len(l) >= 8 {
			s.literals = append(s.literals, l)
		}
	}
	return s, nil
}

// MustNew is New for static rule sets.
func MustNew(rules []Rule, literals ...string) *Scrubber {
	s, err := New(rules, literals...)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns a scrubber with DefaultRules, the given literals and the
// gitleaks default rule set.
func Default(literals ...string) *Scrubber {
	s := MustNew(DefaultRules(), literals...)
	s.deep = true
	return s
}

// Scrub returns content with every credential replaced by Redaction.
func (s *Scrubber) Scrub(content string) Result {
	if s == nil || content == "" {
		return Result{Text: content}
	}

	var findings []Finding
	lower := strings.ToLower(content)
	for _, r := range s.rules {
		if !hasKeyword(lower, r.keywords) {
			continue
		}
		for _, m := range r.re.FindAllStringIndex(content, -1) {
			findings = append(findings, Finding{RuleID: r.id, Start: m[0], End: m[1]})
		}
	}
	for _, l := range s.literals {
		findings = append(findings, occurrences(content, l, "configured-credential")...)
	}
	if s.deep {
		findings = append(findings, gitleaksFindings(content)...)
	}
	if len(findings) == 0 {
		return Result{Text: content}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Start != findings[j].Start {
			return findings[i].Start < findings[j].Start
		}
		return findings[i].End > findings[j].End
	})

	var b strings.Builder
	pos := 0
	for _, f := range findings {
		if f.End <= pos {
			continue
		}
		if f.Start >= pos {
			b.WriteString(content[pos:f.Start])
			b.WriteString(Redaction)
		}
		// An overlapping span extends the redaction already written.
		pos = f.End
	}
	b.WriteString(content[pos:])
	return Result{Text: b.String(), Findings: findings}
}

// String scrubs s and returns only the text.
func (s *Scrubber) String(content string) string {
	return s.Scrub(content).Text
}

// Error wraps err so its message is scrubbed while errors.Is and errors.As
// still reach the original chain.
func (s *Scrubber) Error(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := s.String(msg)
	if clean == msg {
		return err
	}
	return &scrubbedError{msg: clean, err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// IsScrubbed reports whether err was rewritten by a Scrubber.
func IsScrubbed(err error) bool {
	var se *scrubbedError
	return errors.As(err, &se)
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
