package sql

import (
	"fmt"
	"strings"

	"github.com/wr-db/snowflake-writer/pkg/datatype"
	"github.com/wr-db/snowflake-writer/pkg/models"
)

// Quoter is the single source of identifier and literal escaping.
// Every statement is composed with it; nothing is bound as a parameter.
type Quoter interface {
	QuoteIdentifier(s string) string
	QuoteLiteral(s string) string
}

// StatementTimeoutSeconds is applied to every warehouse session.
const StatementTimeoutSeconds = 3600

// QueryBuilder composes DDL, DML and introspection statements for one
// database and schema.
type QueryBuilder struct {
	q        Quoter
	database string
	schema   string
}

// NewQueryBuilder returns a builder targeting database.schema.
func NewQueryBuilder(q Quoter, database, schema string) *QueryBuilder {
	return &QueryBuilder{q: q, database: database, schema: schema}
}

// TableNameWithSchema returns "schema"."table".
func (b *QueryBuilder) TableNameWithSchema(table string) string {
	return b.q.QuoteIdentifier(b.schema) + "." + b.q.QuoteIdentifier(table)
}

// CreateTable returns CREATE TEMPORARY TABLE for temporary tables and
// CREATE TABLE IF NOT EXISTS otherwise. Ignored columns are skipped.
func (b *QueryBuilder) CreateTable(table string, temporary bool, columns []models.ColumnSpec, primaryKey []string) string {
	var defs []string
	for _, col := range columns {
		if col.IsIgnored() {
			continue
		}
		defs = append(defs, b.columnDefinition(col))
	}
	if len(primaryKey) > 0 {
		defs = append(defs, b.primaryKeyDefinition(primaryKey))
	}

	kind := "TABLE IF NOT EXISTS"
	if temporary {
		kind = "TEMPORARY TABLE"
	}
	return fmt.Sprintf("CREATE %s %s (%s)", kind, b.TableNameWithSchema(table), strings.Join(defs, ", "))
}

// columnDefinition renders "name" TYPE[(size)] NULL|NOT NULL [DEFAULT CAST('v' AS TYPE)].
func (b *QueryBuilder) columnDefinition(col models.ColumnSpec) string {
	typ := strings.ToUpper(col.Type)
	if col.Size != "" && datatype.TypeSupportsSize(col.Type) {
		typ += "(" + col.Size + ")"
	}

	parts := []string{b.q.QuoteIdentifier(col.DBName), typ}
	if col.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, fmt.Sprintf("DEFAULT CAST(%s AS %s)", b.q.QuoteLiteral(*col.Default), typ))
	}
	return strings.Join(parts, " ")
}

func (b *QueryBuilder) primaryKeyDefinition(primaryKey []string) string {
	return fmt.Sprintf("PRIMARY KEY(%s)", strings.Join(b.quoteIdentifiers(primaryKey), ", "))
}

func (b *QueryBuilder) quoteIdentifiers(names []string) []string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = b.q.QuoteIdentifier(name)
	}
	return quoted
}

// DropTable drops the table if it exists.
func (b *QueryBuilder) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + b.TableNameWithSchema(table)
}

// SwapTable atomically exchanges the contents of two tables.
func (b *QueryBuilder) SwapTable(table, other string) string {
	return fmt.Sprintf("ALTER TABLE %s SWAP WITH %s", b.TableNameWithSchema(table), b.TableNameWithSchema(other))
}

// DropStage drops a named stage if it exists.
func (b *QueryBuilder) DropStage(stage string) string {
	return "DROP STAGE IF EXISTS " + b.q.QuoteIdentifier(stage)
}

// ShowColumns lists the columns of a table.
func (b *QueryBuilder) ShowColumns(table string) string {
	return "SHOW COLUMNS IN " + b.TableNameWithSchema(table)
}

// DescribeTable returns one row per column with name, type, kind, null?, default,
// primary key and unique key.
func (b *QueryBuilder) DescribeTable(table string) string {
	return "DESCRIBE TABLE " + b.TableNameWithSchema(table)
}

// TableExists selects the table's catalog row; an empty result means absent.
func (b *QueryBuilder) TableExists(table string) string {
	return fmt.Sprintf(
		"SELECT * FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = %s AND TABLE_SCHEMA = %s AND TABLE_CATALOG = %s",
		b.q.QuoteLiteral(table),
		b.q.QuoteLiteral(b.schema),
		b.q.QuoteLiteral(b.database),
	)
}

// ShowPrimaryKeys lists primary key columns (column_name) of a table.
func (b *QueryBuilder) ShowPrimaryKeys(table string) string {
	return "SHOW PRIMARY KEYS IN TABLE " + b.TableNameWithSchema(table)
}

// ShowUniqueKeys lists unique key columns (column_name) of a table.
func (b *QueryBuilder) ShowUniqueKeys(table string) string {
	return "SHOW UNIQUE KEYS IN TABLE " + b.TableNameWithSchema(table)
}

// TableConstraints lists constraint names of the given type, e.g. FOREIGN KEY.
func (b *QueryBuilder) TableConstraints(table, constraintType string) string {
	return fmt.Sprintf(
		"SELECT CONSTRAINT_NAME FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS WHERE TABLE_NAME = %s AND TABLE_SCHEMA = %s AND TABLE_CATALOG = %s AND CONSTRAINT_TYPE = %s",
		b.q.QuoteLiteral(table),
		b.q.QuoteLiteral(b.schema),
		b.q.QuoteLiteral(b.database),
		b.q.QuoteLiteral(strings.ToUpper(constraintType)),
	)
}

// ShowParameter returns the session parameter rows (key, value) matching name.
func (b *QueryBuilder) ShowParameter(name string) string {
	return "SHOW PARAMETERS LIKE " + b.q.QuoteLiteral(name)
}

// CurrentUser selects the session user as CURRENT_USER.
func (b *QueryBuilder) CurrentUser() string {
	return "SELECT CURRENT_USER"
}

// DescribeUser returns property/value rows of a user.
func (b *QueryBuilder) DescribeUser(user string) string {
	return "DESC USER " + b.q.QuoteIdentifier(user)
}

// CurrentDate is the cheapest statement that proves a working session.
func (b *QueryBuilder) CurrentDate() string {
	return "SELECT current_date"
}

// UseWarehouse selects the compute warehouse for the session.
func (b *QueryBuilder) UseWarehouse(warehouse string) string {
	return "USE WAREHOUSE " + b.q.QuoteIdentifier(warehouse)
}

// UseSchema selects the target schema for the session.
func (b *QueryBuilder) UseSchema() string {
	return "USE SCHEMA " + b.q.QuoteIdentifier(b.schema)
}

// SetStatementTimeout caps the run time of every statement in the session.
func (b *QueryBuilder) SetStatementTimeout(seconds int) string {
	return fmt.Sprintf("ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS = %d", seconds)
}

// joinOnPrimaryKey renders target."k" = source."k" AND ... for every key column.
func (b *QueryBuilder) joinOnPrimaryKey(target, source string, primaryKey []string) string {
	clauses := make([]string, len(primaryKey))
	for i, key := range primaryKey {
		col := b.q.QuoteIdentifier(key)
		clauses[i] = fmt.Sprintf("%s.%s = %s.%s", target, col, source, col)
	}
	return strings.Join(clauses, " AND ")
}

// UpsertUpdate updates target rows that have a matching primary key in staging.
func (b *QueryBuilder) UpsertUpdate(target, staging string, columns []models.ColumnSpec, primaryKey []string) string {
	targetName := b.TableNameWithSchema(target)
	stagingName := b.TableNameWithSchema(staging)

	var sets []string
	for _, col := range columns {
		if col.IsIgnored() {
			continue
		}
		name := b.q.QuoteIdentifier(col.DBName)
		sets = append(sets, fmt.Sprintf("%s = %s.%s", name, stagingName, name))
	}

	return fmt.Sprintf(
		"UPDATE %s SET %s FROM %s WHERE %s",
		targetName,
		strings.Join(sets, ", "),
		stagingName,
		b.joinOnPrimaryKey(targetName, stagingName, primaryKey),
	)
}

// UpsertDelete removes already-applied rows from staging so they are not inserted again.
// Must run after UpsertUpdate.
func (b *QueryBuilder) UpsertDelete(target, staging string, primaryKey []string) string {
	targetName := b.TableNameWithSchema(target)
	stagingName := b.TableNameWithSchema(staging)

	return fmt.Sprintf(
		"DELETE FROM %s USING %s WHERE %s",
		stagingName,
		targetName,
		b.joinOnPrimaryKey(targetName, stagingName, primaryKey),
	)
}

// UpsertInsert copies the remaining staging rows into target.
func (b *QueryBuilder) UpsertInsert(target, staging string, columns []models.ColumnSpec) string {
	var names []string
	for _, col := range columns {
		if col.IsIgnored() {
			continue
		}
		names = append(names, b.q.QuoteIdentifier(col.DBName))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT * FROM %s",
		b.TableNameWithSchema(target),
		strings.Join(names, ", "),
		b.TableNameWithSchema(staging),
	)
}

// AddPrimaryKey adds a primary key to a table that has none.
func (b *QueryBuilder) AddPrimaryKey(table string, primaryKey []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", b.TableNameWithSchema(table), b.primaryKeyDefinition(primaryKey))
}

// AddUniqueKey adds a unique constraint on one column.
func (b *QueryBuilder) AddUniqueKey(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD UNIQUE (%s)", b.TableNameWithSchema(table), b.q.QuoteIdentifier(column))
}

// ForeignKeyName is the constraint name used for a reference to refTable.refColumn.
func ForeignKeyName(refTable, refColumn string) string {
	return fmt.Sprintf("FK_%s_%s", refTable, refColumn)
}

// AddForeignKey links table.column to refTable.refColumn.
func (b *QueryBuilder) AddForeignKey(table, column, refTable, refColumn string) string {
	return fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)",
		b.TableNameWithSchema(table),
		b.q.QuoteIdentifier(ForeignKeyName(refTable, refColumn)),
		b.q.QuoteIdentifier(column),
		b.TableNameWithSchema(refTable),
		b.q.QuoteIdentifier(refColumn),
	)
}
