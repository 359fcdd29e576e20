package db

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rohanthewiz/serr"
)

// SchemaColumn describes one column of an introspected table
type SchemaColumn struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable,omitempty"`
}

// SchemaTable is the metadata the browser pushes for one table after
// introspecting the user's database.
type SchemaTable struct {
	SchemaName string         `json:"schemaName"`
	TableName  string         `json:"tableName"`
	Columns    []SchemaColumn `json:"columns"`
}

// ReplaceSchemaCache replaces the cached schema metadata for a connection
func (db *DB) ReplaceSchemaCache(connectionID string, tables []SchemaTable) error {
	if _, err := db.conn.Exec(`DELETE FROM schema_tables WHERE connection_id = ?`, connectionID); err != nil {
		return serr.Wrap(err, "failed to clear schema cache")
	}

	now := time.Now()
	for _, table := range tables {
		columns, err := json.Marshal(table.Columns)
		if err != nil {
			return serr.Wrap(err, "failed to marshal columns")
		}
		_, err = db.conn.Exec(`
			INSERT INTO schema_tables (connection_id, schema_name, table_name, columns, cached_at)
			VALUES (?, ?, ?, ?, ?)`,
			connectionID, table.SchemaName, table.TableName, string(columns), now)
		if err != nil {
			return serr.Wrap(err, "failed to cache schema table")
		}
	}
	return nil
}

// ListSchemaTables returns the cached schema metadata for a connection,
// optionally filtered to the named schemas.
func (db *DB) ListSchemaTables(connectionID string, schemas []string) ([]SchemaTable, error) {
	rows, err := db.conn.Query(`
		SELECT schema_name, table_name, columns
		FROM schema_tables WHERE connection_id = ?
		ORDER BY schema_name, table_name`, connectionID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list schema tables")
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		wanted[s] = true
	}

	tables := make([]SchemaTable, 0)
	for rows.Next() {
		var table SchemaTable
		var columns string
		if err := rows.Scan(&table.SchemaName, &table.TableName, &columns); err != nil {
			return nil, serr.Wrap(err, "failed to scan schema table")
		}
		if len(wanted) > 0 && !wanted[table.SchemaName] {
			continue
		}
		if err := json.Unmarshal([]byte(columns), &table.Columns); err != nil {
			return nil, serr.Wrap(err, "failed to unmarshal columns")
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

// SchemaContextString renders the cached schema metadata into the textual
// context interpolated into prompts. Satisfies the orchestrator's schema
// provider.
func (db *DB) SchemaContextString(connectionID string, selectedSchemas []string) (string, error) {
	tables, err := db.ListSchemaTables(connectionID, selectedSchemas)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, table := range tables {
		name := table.TableName
		if table.SchemaName != "" && table.SchemaName != "public" {
			name = table.SchemaName + "." + table.TableName
		}
		cols := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			c := col.Name + " " + col.DataType
			if col.Nullable {
				c += " null"
			}
			cols = append(cols, c)
		}
		sb.WriteString(fmt.Sprintf("%s(%s)\n", name, strings.Join(cols, ", ")))
	}
	return sb.String(), nil
}
