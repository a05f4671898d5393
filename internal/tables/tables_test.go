package tables

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "partitioned_tables": {
    "store_sales": {"partition_by": "ss_sold_date_sk", "localsort_by": "ss_item_sk"},
    "catalog_sales": {"partition_by": "cs_sold_date_sk"},
    "inventory": {"partition_by": ["inv_date_sk", "inv_warehouse_sk"], "localsort_by": "inv_item_sk"}
  },
  "non_partitioned_tables": ["call_center", "store"]
}`

func TestParse_KeepsFileOrder(t *testing.T) {
	cfg, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"store_sales", "catalog_sales", "inventory", "call_center", "store"}, cfg.Names())

	ss := cfg.Partitioned[0]
	assert.Equal(t, "ss_sold_date_sk", ss.PartitionBy)
	assert.Equal(t, "ss_item_sk", ss.LocalSortBy)
	assert.True(t, ss.Partitioned())

	assert.Equal(t, "", cfg.Partitioned[1].LocalSortBy)
	assert.Equal(t, "inv_date_sk, inv_warehouse_sk", cfg.Partitioned[2].PartitionBy)

	store, ok := cfg.Lookup("store")
	require.True(t, ok)
	assert.False(t, store.Partitioned())

	_, ok = cfg.Lookup("web_page")
	assert.False(t, ok)
}

func TestParse_InvalidStructure(t *testing.T) {
	tests := map[string]string{
		"not json":            `{`,
		"missing partitioned": `{"non_partitioned_tables": []}`,
		"missing non":         `{"partitioned_tables": {}}`,
		"partitioned list":    `{"partitioned_tables": [], "non_partitioned_tables": []}`,
		"non not list":        `{"partitioned_tables": {}, "non_partitioned_tables": "store"}`,
		"duplicate":           `{"partitioned_tables": {"store": {"partition_by": "s"}}, "non_partitioned_tables": ["store"]}`,
		"empty name":          `{"partitioned_tables": {}, "non_partitioned_tables": [""]}`,
		"bad spec":            `{"partitioned_tables": {"store": {"partition_by": 5}}, "non_partitioned_tables": []}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse([]byte(`{"partitioned_tables": {}, "non_partitioned_tables": []}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.All())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	content := `
partitioned_tables:
  web_sales:
    partition_by: ws_sold_date_sk
  catalog_returns:
    partition_by: cr_returned_date_sk
    localsort_by: cr_item_sk
non_partitioned_tables:
  - date_dim
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	// YAML mappings come back sorted
	assert.Equal(t, []string{"catalog_returns", "web_sales", "date_dim"}, cfg.Names())
	assert.Equal(t, "cr_item_sk", cfg.Partitioned[0].LocalSortBy)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "tables.json"))
	assert.Error(t, err)
}

func TestProperty_PartitionedOrderPreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("partitioned tables come back in file order", prop.ForAll(
		func(names []string) bool {
			// dedupe while keeping order
			seen := map[string]bool{}
			var unique []string
			for _, n := range names {
				if !seen[n] {
					seen[n] = true
					unique = append(unique, n)
				}
			}

			var b strings.Builder
			b.WriteString(`{"partitioned_tables": {`)
			for i, n := range unique {
				if i > 0 {
					b.WriteString(",")
				}
				key, _ := json.Marshal(n)
				fmt.Fprintf(&b, `%s: {"partition_by": "p_%d"}`, key, i)
			}
			b.WriteString(`}, "non_partitioned_tables": []}`)

			cfg, err := Parse([]byte(b.String()))
			if err != nil {
				return false
			}
			if len(cfg.Partitioned) != len(unique) {
				return false
			}
			for i, tbl := range cfg.Partitioned {
				if tbl.Name != unique[i] || tbl.PartitionBy != fmt.Sprintf("p_%d", i) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func TestAll_PartitionedFirst(t *testing.T) {
	cfg := &Config{
		Partitioned:    []Table{{Name: "b", PartitionBy: "x"}},
		NonPartitioned: []Table{{Name: "a"}},
	}
	names := cfg.Names()
	assert.Equal(t, []string{"b", "a"}, names)
	assert.False(t, sort.StringsAreSorted(names))
}
