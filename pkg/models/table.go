package models

import (
	"fmt"
	"strings"

	"github.com/wr-db/snowflake-writer/pkg/apperrors"
)

// LoadMode selects how staged rows reach the target table.
type LoadMode string

const (
	LoadModeFull        LoadMode = "full"        // replace via staging table + swap
	LoadModeIncremental LoadMode = "incremental" // merge on primary key
)

// IgnoredType marks a column that exists in the source file but is not written.
const IgnoredType = "ignore"

// ColumnSpec describes one column of a table to be written.
// Ignored columns keep their position so file column $n stays aligned.
type ColumnSpec struct {
	Name             string  `json:"name" yaml:"name"`       // column name in the source file
	DBName           string  `json:"db_name" yaml:"db_name"` // column name in the warehouse
	Type             string  `json:"type" yaml:"type"`
	Size             string  `json:"size,omitempty" yaml:"size"`
	Nullable         bool    `json:"nullable" yaml:"nullable"`
	Default          *string `json:"default,omitempty" yaml:"default"`
	ForeignKeyTable  string  `json:"foreign_key_table,omitempty" yaml:"foreign_key_table"`
	ForeignKeyColumn string  `json:"foreign_key_column,omitempty" yaml:"foreign_key_column"`
}

// IsIgnored reports whether the column is skipped in every generated statement.
func (c ColumnSpec) IsIgnored() bool {
	return strings.EqualFold(c.Type, IgnoredType)
}

// HasForeignKey reports whether the column references another table.
func (c ColumnSpec) HasForeignKey() bool {
	return c.ForeignKeyTable != "" && c.ForeignKeyColumn != ""
}

// TableSpec describes a warehouse table and how to load it.
type TableSpec struct {
	TableID    string       `json:"table_id"` // source table identifier, used to locate the manifest
	DBName     string       `json:"db_name"`
	Export     bool         `json:"export"`
	Columns    []ColumnSpec `json:"columns"`
	PrimaryKey []string     `json:"primary_key,omitempty"`
	LoadMode   LoadMode     `json:"load_mode"`
}

// ActiveColumns returns the non-ignored columns in declaration order.
func (t TableSpec) ActiveColumns() []ColumnSpec {
	active := make([]ColumnSpec, 0, len(t.Columns))
	for _, col := range t.Columns {
		if !col.IsIgnored() {
			active = append(active, col)
		}
	}
	return active
}

// WithName returns a copy of the table spec pointing at another warehouse table.
// Used for staging tables that share the target's definition.
func (t TableSpec) WithName(dbName string) TableSpec {
	clone := t
	clone.DBName = dbName
	clone.Columns = append([]ColumnSpec(nil), t.Columns...)
	clone.PrimaryKey = append([]string(nil), t.PrimaryKey...)
	return clone
}

// ForeignKeyColumns returns the active columns that reference another table.
func (t TableSpec) ForeignKeyColumns() []ColumnSpec {
	var cols []ColumnSpec
	for _, col := range t.ActiveColumns() {
		if col.HasForeignKey() {
			cols = append(cols, col)
		}
	}
	return cols
}

// Validate checks table-level invariants: warehouse column names are unique
// and every primary key column is an active column.
func (t TableSpec) Validate() error {
	if t.DBName == "" {
		return fmt.Errorf("%w: table db_name is required", apperrors.ErrInvalidSpec)
	}
	switch t.LoadMode {
	case LoadModeFull, LoadModeIncremental:
	default:
		return fmt.Errorf("%w: table %q has unknown load mode %q", apperrors.ErrInvalidSpec, t.DBName, t.LoadMode)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.ActiveColumns() {
		if col.DBName == "" {
			return fmt.Errorf("%w: column %q in table %q has no db_name", apperrors.ErrInvalidSpec, col.Name, t.DBName)
		}
		if seen[col.DBName] {
			return fmt.Errorf("%w: duplicate column %q in table %q", apperrors.ErrInvalidSpec, col.DBName, t.DBName)
		}
		seen[col.DBName] = true
	}

	for _, pk := range t.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("%w: primary key column %q is not a column of table %q", apperrors.ErrInvalidSpec, pk, t.DBName)
		}
	}
	return nil
}
