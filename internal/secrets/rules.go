package secrets

// Rule describes one credential pattern.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords gate the regexp: it only runs when one appears in the text
	// (case-insensitive). Empty means always run.
	Keywords []string
}

// DefaultRules covers the credentials scriptorium handles: language model
// provider keys and the HTTP headers that carry them.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "google-api-key",
			Description: "Google API key",
			Pattern:     `AIza[0-9A-Za-z_\-]{35}`,
		},
		{
			ID:          "bearer-token",
			Description: "Authorization bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9._~+/\-]+=*`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "api-key-header",
			Description: "API key header",
			Pattern:     `(?i)(?:x-api-key|x-goog-api-key)\s*[:=]\s*\S+`,
			Keywords:    []string{"api-key"},
		},
		{
			ID:          "api-key-param",
			Description: "API key query parameter",
			Pattern:     `(?i)[?&]key=[^&\s"']+`,
			Keywords:    []string{"key="},
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{16,}["']?`,
			Keywords:    []string{"key"},
		},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`,
		},
	}
}
