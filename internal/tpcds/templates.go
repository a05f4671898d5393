package tpcds

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// TemplateFix rewrites the text of a query template. It must be idempotent.
type TemplateFix struct {
	Name    string
	Rewrite func(string) string
}

// DefaultTemplateFixes adapts the stock TPC-DS templates to the engine's SQL dialect.
var DefaultTemplateFixes = []TemplateFix{
	{Name: "date_add", Rewrite: RewriteDateAdd},
	{Name: "returns", Rewrite: QuoteReturns},
	{Name: "year", Rewrite: QuoteYear},
}

// (cast('X' as date) + N days), either quote style, optional outer parens
var dateAddPattern = regexp.MustCompile(
	`(?i)\(?cast\s*\(\s*(?:'(\[?[^\]'"]+\]?)'|"(\[?[^\]'"]+\]?)")\s+as\s+date\s*\)\s*([+-])\s*(\d+)\s+days\s*\)?`)

// RewriteDateAdd converts date arithmetic such as
// (cast('[SALES_DATE]' as date) + 30 days) into DATE_ADD(cast('[SALES_DATE]' as date), 30).
func RewriteDateAdd(sql string) string {
	return dateAddPattern.ReplaceAllStringFunc(sql, func(match string) string {
		parts := dateAddPattern.FindStringSubmatch(match)
		if len(parts) < 5 {
			return match
		}

		value := parts[1]
		if value == "" {
			value = parts[2]
		}
		sign := ""
		if parts[3] == "-" {
			sign = "-"
		}
		return fmt.Sprintf("DATE_ADD(cast('%s' as date), %s%s)", value, sign, parts[4])
	})
}

var (
	returnsAlias = regexp.MustCompile(`\bas\s+returns\b`)
	returnsParen = regexp.MustCompile(`\(\s*returns\s*\)`)
	yearAlias    = regexp.MustCompile(`\bas\s+year\b`)
	yearCall     = regexp.MustCompile(`(\w+)\(\s*year\s*\)`)
)

// QuoteReturns quotes the reserved word returns when used as an alias or a
// parenthesized column reference.
func QuoteReturns(sql string) string {
	sql = returnsAlias.ReplaceAllString(sql, `as "returns"`)
	return returnsParen.ReplaceAllString(sql, `("returns")`)
}

// QuoteYear quotes the reserved word year when used as an alias or as a
// single function argument.
func QuoteYear(sql string) string {
	sql = yearAlias.ReplaceAllString(sql, `as "year"`)
	return yearCall.ReplaceAllString(sql, `$1("year")`)
}

var (
	lineComment   = regexp.MustCompile(`--.*`)
	defineMacro   = regexp.MustCompile(`(?i)define\s.*?;`)
	whitespace    = regexp.MustCompile(`\s+`)
	selectKeyword = regexp.MustCompile(`(?i)\bselect\b`)
)

// ExtractQueries strips comments and define macros from a template and returns
// the semicolon separated statements that contain a SELECT.
func ExtractQueries(template string) []string {
	content := lineComment.ReplaceAllString(template, "")
	content = defineMacro.ReplaceAllString(content, "")
	content = whitespace.ReplaceAllString(content, " ")

	var queries []string
	for _, q := range strings.Split(content, ";") {
		if selectKeyword.MatchString(q) {
			queries = append(queries, strings.TrimSpace(q))
		}
	}
	return queries
}

// FixTemplates applies fixes to every .tpl file in dir and rewrites the files
// that changed. It returns the names of the rewritten files. An unreadable
// file is logged and skipped.
func FixTemplates(dir string, fixes []TemplateFix, logger zerolog.Logger) ([]string, error) {
	files, err := listTemplates(dir)
	if err != nil {
		return nil, err
	}

	var rewritten []string
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Failed to read template")
			continue
		}

		original := string(data)
		updated := original
		var applied []string
		for _, fix := range fixes {
			next := fix.Rewrite(updated)
			if next != updated {
				applied = append(applied, fix.Name)
			}
			updated = next
		}
		if updated == original {
			continue
		}

		if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Failed to write template")
			continue
		}
		rewritten = append(rewritten, filepath.Base(path))
		logger.Info().Str("path", path).Strs("fixes", applied).Msg("Rewrote template")
	}
	return rewritten, nil
}

// MultiQueryTemplates reports templates that expand to more than one statement,
// keyed by file name.
func MultiQueryTemplates(dir string, logger zerolog.Logger) (map[string]int, error) {
	files, err := listTemplates(dir)
	if err != nil {
		return nil, err
	}

	out := map[string]int{}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Failed to read template")
			continue
		}
		if n := len(ExtractQueries(string(data))); n > 1 {
			out[filepath.Base(path)] = n
		}
	}
	return out, nil
}

func listTemplates(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.tpl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates in %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
