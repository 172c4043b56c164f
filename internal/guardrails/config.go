package guardrails

import "strings"

// Config lists the banned keywords. Matching is a case-insensitive
// substring test.
type Config struct {
	BlockedKeywords []string
}

// ParseKeywords splits a comma-separated keyword list, dropping blanks.
func ParseKeywords(list string) Config {
	var cfg Config
	for _, kw := range strings.Split(list, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			cfg.BlockedKeywords = append(cfg.BlockedKeywords, kw)
		}
	}
	return cfg
}

// Enabled reports whether any keyword is configured.
func (c Config) Enabled() bool {
	return len(c.BlockedKeywords) > 0
}
