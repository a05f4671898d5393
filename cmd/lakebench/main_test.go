package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basekick-labs/lakebench/internal/engine/enginetest"
	"github.com/basekick-labs/lakebench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmFrom(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"y", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.want, confirmFrom(strings.NewReader(tt.input), &out, "Proceed?"))
			assert.Equal(t, "Proceed? (y/n): ", out.String())
		})
	}
}

// execute runs the CLI with a config file holding cfg and returns its stdout.
func execute(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lakebench.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"error\"\n\n"+cfg), 0644))

	a := &app{}
	root := a.rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config", path}, args...))

	err := root.Execute()
	if a.shutdown != nil {
		require.NoError(t, a.shutdown.Shutdown())
	}
	return out.String(), err
}

func TestGroup_InvalidMode(t *testing.T) {
	_, err := execute(t, "", "tpcds", "convert")
	require.Error(t, err)
	assert.Equal(t, `unknown mode "convert" for lakebench tpcds, valid modes are: cleanup, encoding, fix-templates, generate, split, upload`, err.Error())

	_, err = execute(t, "", "bench")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lakebench bench requires a mode")
	assert.Contains(t, err.Error(), "ping, reflections, run, validate")
}

func TestRoot_UnknownCommand(t *testing.T) {
	_, err := execute(t, "", "deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "deploy"`)
}

func TestTPCDSGenerate_Declined(t *testing.T) {
	raw := t.TempDir()
	out, err := execute(t, fmt.Sprintf("[tpcds]\nraw_dir = %q\n", raw), "tpcds", "generate", "--scale", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Generate TPC-DS data at scale 2")

	entries, err := os.ReadDir(raw)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTPCDSSplit(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "query_0.sql")
	require.NoError(t, os.WriteFile(input, []byte(
		"-- start query 1 in stream 0 using template query1.tpl\nselect 1;\n"+
			"-- start query 2 in stream 0 using template query2.tpl\nselect 2;\n"), 0644))

	_, err := execute(t, fmt.Sprintf("[tpcds]\nqueries_dir = %q\n", dir), "tpcds", "split")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "query_1.sql"))
	assert.FileExists(t, filepath.Join(dir, "query_2.sql"))
}

func TestBenchRun(t *testing.T) {
	srv := enginetest.New(t)
	queries := t.TempDir()
	resultsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(queries, "query_1.sql"), []byte("SELECT 1;\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(queries, "query_2.sql"), []byte("SELECT 2;\n"), 0644))

	cfg := fmt.Sprintf(`[engine]
url = %q
username = "admin"
password = %q
poll_interval = "1ms"

[bench]
queries_dir = %q
results_dir = %q
`, srv.URL, enginetest.Password, queries, resultsDir)

	out, err := execute(t, cfg, "bench", "run", "--reflections")
	require.NoError(t, err)
	assert.Contains(t, out, "2 queries, 2 succeeded, 0 failed")
	assert.Equal(t, 1, srv.Logins())

	f, err := os.Open(filepath.Join(resultsDir, "full_results.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.ResultColumns, records[0])
	assert.Contains(t, records[1][0], "-wref-query_1")
}

func TestBenchRun_NoQueries(t *testing.T) {
	srv := enginetest.New(t)
	cfg := fmt.Sprintf("[engine]\nurl = %q\nusername = \"admin\"\npassword = %q\n\n[bench]\nqueries_dir = %q\nresults_dir = %q\n",
		srv.URL, enginetest.Password, t.TempDir(), t.TempDir())

	_, err := execute(t, cfg, "bench", "run")
	assert.NoError(t, err)
	assert.Empty(t, srv.Statements())
}

func TestBenchValidate(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "full_results.csv")
	f, err := os.Create(input)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll([][]string{
		models.ResultColumns,
		{"run-20240501-120000-wref-query_1", "120", "true", "10", "5", "job-1", "COMPLETED", ""},
		{"run-noref-20240501-120000-query_1", "340", "true", "10", "5", "job-2", "COMPLETED", ""},
	}))
	require.NoError(t, f.Close())

	cfg := fmt.Sprintf("[bench]\nresults_dir = %q\nexpected_runs = 1\nexpected_queries = 1\n", dir)

	out, err := execute(t, cfg, "bench", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "runs with reflections: 1, runs without reflections: 1")
	matches, err := filepath.Glob(filepath.Join(dir, "validated_results-*.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	cfg = fmt.Sprintf("[bench]\nresults_dir = %q\nexpected_runs = 2\nexpected_queries = 1\n", dir)
	_, err = execute(t, cfg, "bench", "validate")
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "invalid_results.csv"))
}

// icebergConfig points the CLI at srv with catalog "lake", folder "tpcds" and
// bucket "raw", followed by extra TOML.
func icebergConfig(t *testing.T, srv *enginetest.Server, extra string) string {
	t.Helper()
	tablesFile := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(tablesFile, []byte(`{
  "partitioned_tables": {"store_sales": {"partition_by": "ss_sold_date_sk"}},
  "non_partitioned_tables": ["store"]
}`), 0644))

	return fmt.Sprintf(`[engine]
url = %q
username = "admin"
password = %q
poll_interval = "1ms"

[storage]
s3_bucket = "raw"

[lakehouse]
catalog = "lake"
folder = "tpcds"
source_folder = "parquet"
tables_file = %q
%s`, srv.URL, enginetest.Password, tablesFile, extra)
}

func TestIcebergTables(t *testing.T) {
	srv := enginetest.New(t)

	out, err := execute(t, icebergConfig(t, srv, ""), "iceberg", "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "tables: 2 succeeded, 0 failed, 0 skipped")
	assert.Equal(t, []string{
		`SELECT * FROM "raw"."raw"."store_sales"."store_sales.parquet" LIMIT 1`,
		`CREATE TABLE "lake"."tpcds"."store_sales" PARTITION BY (ss_sold_date_sk) AS SELECT * FROM "raw"."parquet"."store_sales"`,
		`SELECT * FROM "raw"."raw"."store"."store.parquet" LIMIT 1`,
		`CREATE TABLE "lake"."tpcds"."store" AS SELECT * FROM "raw"."parquet"."store"`,
	}, srv.SQL())
	assert.Equal(t, 1, srv.Logins())
}

func TestIcebergTables_SingleTable(t *testing.T) {
	srv := enginetest.New(t)

	out, err := execute(t, icebergConfig(t, srv, ""), "iceberg", "tables", "--table", "store")
	require.NoError(t, err)
	assert.Contains(t, out, "tables: 1 succeeded")
	sql := srv.SQL()
	require.Len(t, sql, 2)
	assert.Equal(t, `CREATE TABLE "lake"."tpcds"."store" AS SELECT * FROM "raw"."parquet"."store"`, sql[1])
}

func TestIcebergTables_FailedTableIsReported(t *testing.T) {
	srv := enginetest.New(t)
	srv.Outcome = func(sql string) enginetest.Outcome {
		if strings.HasPrefix(sql, `CREATE TABLE "lake"."tpcds"."store_sales"`) {
			return enginetest.Outcome{State: "FAILED", ErrorMessage: "table exists"}
		}
		return enginetest.Outcome{State: "COMPLETED"}
	}

	out, err := execute(t, icebergConfig(t, srv, ""), "iceberg", "tables")
	require.NoError(t, err, "a failed table does not fail the command")
	assert.Contains(t, out, "tables: 1 succeeded, 1 failed, 0 skipped (failed: store_sales)")
}

func TestIcebergTables_MissingCatalog(t *testing.T) {
	srv := enginetest.New(t)
	cfg := strings.Replace(icebergConfig(t, srv, ""), `catalog = "lake"`, "", 1)

	_, err := execute(t, cfg, "iceberg", "tables")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lakehouse.catalog")
	assert.Zero(t, srv.Logins())
}

func TestIcebergViews(t *testing.T) {
	srv := enginetest.New(t)
	queries := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(queries, "query_1.sql"), []byte("select 1;;\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(queries, "query_2.sql"), []byte("select * from store;\n"), 0644))

	out, err := execute(t, icebergConfig(t, srv, fmt.Sprintf("\n[tpcds]\nqueries_dir = %q\n", queries)), "iceberg", "views")
	require.NoError(t, err)
	assert.Contains(t, out, "views: 2 succeeded")

	stmts := srv.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, `CREATE OR REPLACE VIEW "lake"."views"."query_1" AS select 1`, stmts[0].SQL)
	assert.Equal(t, `CREATE OR REPLACE VIEW "lake"."views"."query_2" AS select * from store`, stmts[1].SQL)
	assert.Equal(t, []string{"lake"}, stmts[0].Context)
}

func TestIcebergCleanup(t *testing.T) {
	srv := enginetest.New(t)
	cfg := icebergConfig(t, srv, "")

	out, err := execute(t, cfg, "iceberg", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Drop 2 tables from lake?")
	assert.Contains(t, out, "Cleanup cancelled")
	assert.Zero(t, srv.Logins(), "nothing runs without confirmation")

	out, err = execute(t, cfg, "iceberg", "cleanup", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped tables: 2 succeeded")
	assert.Equal(t, []string{
		`DROP TABLE "lake"."tpcds"."store_sales"`,
		`DROP TABLE "lake"."tpcds"."store"`,
	}, srv.SQL())
}

func TestIcebergSources(t *testing.T) {
	srv := enginetest.New(t)
	bucket := t.TempDir()
	for _, table := range []string{"store", "item"} {
		require.NoError(t, os.MkdirAll(filepath.Join(bucket, table), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(bucket, table, table+".parquet"), []byte("PAR1"), 0644))
	}
	cfg := strings.Replace(icebergConfig(t, srv, ""), "[storage]\n", fmt.Sprintf("[storage]\nbackend = \"local\"\nlocal_path = %q\n", bucket), 1)

	out, err := execute(t, cfg, "iceberg", "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "promoted datasets: 2 succeeded")
	assert.Len(t, srv.Requests(http.MethodPost, "/catalog"), 1, "one source")
	assert.Len(t, srv.Requests(http.MethodPost, "/catalog/dremio:/storage/store"), 1)
	assert.Len(t, srv.Requests(http.MethodPost, "/catalog/dremio:/storage/item"), 1)
}

func TestIceberg_InvalidMode(t *testing.T) {
	_, err := execute(t, "", "iceberg", "deploy")
	require.Error(t, err)
	assert.Equal(t, `unknown mode "deploy" for lakebench iceberg, valid modes are: cleanup, discover, samples, sources, tables, views`, err.Error())
}
