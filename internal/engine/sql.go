package engine

import "strings"

// QuoteIdent double-quotes an identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuotePath quotes every element and joins them with dots. Empty elements are skipped.
func QuotePath(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, QuoteIdent(p))
	}
	return strings.Join(quoted, ".")
}
