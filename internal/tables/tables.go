// Package tables loads the table configuration file that lists which TPC-DS
// tables are deployed, and with which partition and local sort keys.
package tables

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	keyPartitioned    = "partitioned_tables"
	keyNonPartitioned = "non_partitioned_tables"
)

// Table is one table to deploy
type Table struct {
	Name        string
	PartitionBy string
	LocalSortBy string
}

// Partitioned reports whether the table has a partition key.
func (t Table) Partitioned() bool {
	return t.PartitionBy != ""
}

// Config is the parsed table configuration. Partitioned tables keep the order
// they have in the file.
type Config struct {
	Partitioned    []Table
	NonPartitioned []Table
}

// All returns partitioned tables first, then non-partitioned ones.
func (c *Config) All() []Table {
	all := make([]Table, 0, len(c.Partitioned)+len(c.NonPartitioned))
	all = append(all, c.Partitioned...)
	return append(all, c.NonPartitioned...)
}

// Names returns the names of All.
func (c *Config) Names() []string {
	all := c.All()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name
	}
	return names
}

// Lookup finds a table by name.
func (c *Config) Lookup(name string) (Table, bool) {
	for _, t := range c.All() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Load reads a .json, .yaml or .yml table configuration. YAML mappings do not
// carry an order, so partitioned tables loaded from YAML come back sorted by name.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses the JSON table configuration.
func Parse(data []byte) (*Config, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("invalid table config: %w", err)
	}

	partitionedRaw, okP := top[keyPartitioned]
	nonPartitionedRaw, okN := top[keyNonPartitioned]
	if !okP || !okN {
		return nil, fmt.Errorf("invalid table config structure: expected keys %q and %q", keyPartitioned, keyNonPartitioned)
	}

	partitioned, err := parsePartitioned(partitionedRaw)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(nonPartitionedRaw, &names); err != nil {
		return nil, fmt.Errorf("invalid %s: expected a list of table names: %w", keyNonPartitioned, err)
	}

	cfg := &Config{Partitioned: partitioned}
	seen := map[string]bool{}
	for _, t := range partitioned {
		seen[t.Name] = true
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid %s: empty table name", keyNonPartitioned)
		}
		if seen[name] {
			return nil, fmt.Errorf("table %s listed twice", name)
		}
		seen[name] = true
		cfg.NonPartitioned = append(cfg.NonPartitioned, Table{Name: name})
	}
	return cfg, nil
}

// keyList accepts either "col" or ["col1", "col2"].
type keyList string

func (k *keyList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = keyList(strings.TrimSpace(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected a column name or a list of column names")
	}
	*k = keyList(strings.Join(list, ", "))
	return nil
}

type partitionSpec struct {
	PartitionBy keyList `json:"partition_by"`
	LocalSortBy keyList `json:"localsort_by"`
}

// parsePartitioned walks the object token by token so the key order of the
// file is kept.
func parsePartitioned(raw json.RawMessage) ([]Table, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", keyPartitioned, err)
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("invalid %s: expected an object of table name to partition spec", keyPartitioned)
	}

	var out []Table
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", keyPartitioned, err)
		}
		name, _ := tok.(string)

		var spec partitionSpec
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("invalid partition spec for %s: %w", name, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("table %s listed twice", name)
		}
		seen[name] = true

		out = append(out, Table{
			Name:        name,
			PartitionBy: string(spec.PartitionBy),
			LocalSortBy: string(spec.LocalSortBy),
		})
	}
	return out, nil
}
