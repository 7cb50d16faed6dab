package secrets

import (
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksMu serializes detector construction: NewDetectorDefaultConfig
// loads its rules through viper's global instance.
var gitleaksMu sync.Mutex

// gitleaksFindings scans content with the gitleaks default rule set and
// returns the span of every occurrence of each detected secret. A detector
// accumulates findings, so each scan builds its own.
func gitleaksFindings(content string) []Finding {
	gitleaksMu.Lock()
	d, err := detect.NewDetectorDefaultConfig()
	gitleaksMu.Unlock()
	if err != nil {
		return nil
	}

	var out []Finding
	seen := make(map[string]bool)
	for _, f := range d.DetectString(content) {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true
		out = append(out, occurrences(content, f.Secret, "gitleaks:"+f.RuleID)...)
	}
	return out
}

// occurrences returns a finding for each non-overlapping occurrence of
// needle in content.
func occurrences(content, needle, ruleID string) []Finding {
	var out []Finding
	for off := 0; ; {
		i := strings.Index(content[off:], needle)
		if i < 0 {
			return out
		}
		start := off + i
		out = append(out, Finding{RuleID: ruleID, Start: start, End: start + len(needle)})
		off = start + len(needle)
	}
}
