package tpcds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteDateAdd(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single quotes with parens",
			in:   "and (cast('[SALES_DATE]' as date) + 30 days)",
			want: "and DATE_ADD(cast('[SALES_DATE]' as date), 30)",
		},
		{
			name: "double quotes",
			in:   `between cast("2000-02-01" as date) and (cast("2000-02-01" as date) +  60 days)`,
			want: `between cast("2000-02-01" as date) and DATE_ADD(cast('2000-02-01' as date), 60)`,
		},
		{
			name: "subtraction",
			in:   "(cast('[D]' as date) - 14 days)",
			want: "DATE_ADD(cast('[D]' as date), -14)",
		},
		{
			name: "case insensitive",
			in:   "(CAST('[D]' AS DATE) + 5 DAYS)",
			want: "DATE_ADD(cast('[D]' as date), 5)",
		},
		{
			name: "untouched",
			in:   "select cast('[D]' as date) from date_dim",
			want: "select cast('[D]' as date) from date_dim",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteDateAdd(tt.in))
		})
	}
}

func TestQuoteReturns(t *testing.T) {
	assert.Equal(t, `sum(sr_return_amt) as "returns"`, QuoteReturns("sum(sr_return_amt) as returns"))
	assert.Equal(t, `order by ("returns")`, QuoteReturns("order by ( returns )"))
	assert.Equal(t, "as returns_total", QuoteReturns("as returns_total"))
}

func TestQuoteYear(t *testing.T) {
	assert.Equal(t, `d_year as "year"`, QuoteYear("d_year as year"))
	assert.Equal(t, `max("year")`, QuoteYear("max( year )"))
	assert.Equal(t, "d_year as year_total", QuoteYear("d_year as year_total"))
}

func TestTemplateFixesIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	fragments := gen.OneConstOf(
		"select * from store_sales ",
		"(cast('[SALES_DATE]' as date) + 30 days) ",
		`cast("1999-01-01" as date) - 7 days `,
		"sum(x) as returns ",
		"( returns ) ",
		"d_year as year ",
		"max(year) ",
		"where a = b; ",
	)

	properties.Property("applying the fixes twice equals applying them once", prop.ForAll(
		func(parts []string) bool {
			sql := strings.Join(parts, "")
			once := sql
			for _, fix := range DefaultTemplateFixes {
				once = fix.Rewrite(once)
			}
			twice := once
			for _, fix := range DefaultTemplateFixes {
				twice = fix.Rewrite(twice)
			}
			return once == twice
		},
		gen.SliceOf(fragments),
	))

	properties.TestingRun(t)
}

func TestExtractQueries(t *testing.T) {
	tpl := `-- comment with select
define YEAR = random(1998, 2002, uniform);
select a from b;
with x as (select 1) select * from x;
;
`
	got := ExtractQueries(tpl)
	require.Len(t, got, 2)
	assert.Equal(t, "select a from b", got[0])
	assert.Equal(t, "with x as (select 1) select * from x", got[1])
}

func TestFixTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "query1.tpl"), []byte("select sum(x) as returns from t;"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "query2.tpl"), []byte("select 1 from t;"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("as returns"), 0644))

	rewritten, err := FixTemplates(dir, DefaultTemplateFixes, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"query1.tpl"}, rewritten)

	data, err := os.ReadFile(filepath.Join(dir, "query1.tpl"))
	require.NoError(t, err)
	assert.Equal(t, `select sum(x) as "returns" from t;`, string(data))

	notes, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "as returns", string(notes))

	// second pass changes nothing
	rewritten, err = FixTemplates(dir, DefaultTemplateFixes, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, rewritten)
}

func TestMultiQueryTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "query14.tpl"), []byte("select 1;\nselect 2;\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "query1.tpl"), []byte("define X=1;\nselect 1;\n"), 0644))

	got, err := MultiQueryTemplates(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"query14.tpl": 2}, got)
}
