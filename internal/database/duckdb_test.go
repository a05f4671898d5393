package database

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no quotes", "simple_value", "simple_value"},
		{"single quote", "value'with'quotes", "value''with''quotes"},
		{"injection attempt", "x'; DROP TABLE data; --", "x''; DROP TABLE data; --"},
		{"empty string", "", ""},
		{"only quotes", "'''", "''''''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeString(tt.input))
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"ss_item_sk"`, QuoteIdent("ss_item_sk"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}

func TestNew_AppliesSettings(t *testing.T) {
	tmp := t.TempDir()
	db, err := New(&Config{MemoryLimit: "1GB", ThreadCount: 2, TempDirectory: tmp}, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	rows, err := db.QueryContext(ctx, "SELECT current_setting('threads')")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var threads int64
	require.NoError(t, rows.Scan(&threads))
	assert.Equal(t, int64(2), threads)
}

func TestExecContext_Error(t *testing.T) {
	db, err := New(&Config{}, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(context.Background(), "SELECT * FROM no_such_table")
	assert.Error(t, err)
}
