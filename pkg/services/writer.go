package services

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource"
	"github.com/wr-db/snowflake-writer/pkg/adapters/staging"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/datatype"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

const (
	// maxObjectNameLength is the warehouse limit for table and stage names.
	maxObjectNameLength = 255

	stagePrefix = "db-writer"

	timestampMappingParameter = "TIMESTAMP_TYPE_MAPPING"
)

var objectDoesNotExistPattern = regexp.MustCompile(`(?i)Object does not exist`)

// WriterConfig identifies the target of a Writer's session.
type WriterConfig struct {
	Database  string
	Schema    string
	Warehouse string // optional; the user's DEFAULT_WAREHOUSE is used when empty
	RunID     string // embedded in stage names
}

// Writer loads staged data into warehouse tables over one session.
// It is not safe for concurrent use; run parallel loads on separate Writers.
type Writer struct {
	conn   datasource.Connection
	qb     *sqlbuilder.QueryBuilder
	cfg    WriterConfig
	logger *zap.Logger

	timestampMapping string
}

// NewWriter bootstraps the session: statement timeout, warehouse and schema.
// The Writer owns conn from here on; it is closed if bootstrap fails.
func NewWriter(ctx context.Context, conn datasource.Connection, cfg WriterConfig, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Writer{
		conn:   conn,
		qb:     sqlbuilder.NewQueryBuilder(conn, cfg.Database, cfg.Schema),
		cfg:    cfg,
		logger: logger.Named("writer"),
	}

	if err := w.bootstrap(ctx); err != nil {
		if cerr := conn.Close(); cerr != nil {
			w.logger.Warn("Failed to close connection", zap.Error(cerr))
		}
		return nil, err
	}
	return w, nil
}

func (w *Writer) bootstrap(ctx context.Context) error {
	if err := w.conn.Exec(ctx, w.qb.SetStatementTimeout(sqlbuilder.StatementTimeoutSeconds)); err != nil {
		return err
	}
	if err := w.validateAndSetWarehouse(ctx); err != nil {
		return err
	}
	return w.validateAndSetSchema(ctx)
}

func (w *Writer) validateAndSetWarehouse(ctx context.Context) error {
	warehouse := w.cfg.Warehouse
	w.logger.Info("Validating warehouse", zap.String("warehouse", warehouse))

	if warehouse == "" {
		var err error
		if warehouse, err = w.userDefaultWarehouse(ctx); err != nil {
			return err
		}
	}
	if warehouse == "" {
		return apperrors.NewUserError(nil, `Snowflake user has any "DEFAULT_WAREHOUSE" specified. Set "warehouse" parameter.`)
	}

	if err := w.conn.Exec(ctx, w.qb.UseWarehouse(warehouse)); err != nil {
		if objectDoesNotExistPattern.MatchString(err.Error()) {
			return apperrors.NewUserError(err, "Invalid warehouse %q specified", warehouse)
		}
		return err
	}
	return nil
}

// userDefaultWarehouse returns the session user's DEFAULT_WAREHOUSE, or "" when unset.
func (w *Writer) userDefaultWarehouse(ctx context.Context) (string, error) {
	rows, err := w.conn.FetchAll(ctx, w.qb.CurrentUser())
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperrors.NewApplicationError(nil, "CURRENT_USER returned no rows")
	}
	user := rows[0].String("CURRENT_USER")

	props, err := w.conn.FetchAll(ctx, w.qb.DescribeUser(user))
	if err != nil {
		return "", err
	}

	var values []string
	for _, prop := range props {
		if prop.String("property") == "DEFAULT_WAREHOUSE" {
			values = append(values, prop.String("value"))
		}
	}
	if len(values) != 1 || values[0] == "null" {
		return "", nil
	}
	return values[0], nil
}

func (w *Writer) validateAndSetSchema(ctx context.Context) error {
	w.logger.Info("Validating schema", zap.String("schema", w.cfg.Schema))

	if err := w.conn.Exec(ctx, w.qb.UseSchema()); err != nil {
		if objectDoesNotExistPattern.MatchString(err.Error()) {
			return apperrors.NewUserError(err, "Invalid schema %q specified", w.cfg.Schema)
		}
		return err
	}
	return nil
}

// Quoter returns the session's quoting rules.
func (w *Writer) Quoter() sqlbuilder.Quoter {
	return w.conn
}

// Close releases the session.
func (w *Writer) Close() error {
	return w.conn.Close()
}

// TestConnection runs the cheapest statement that proves a usable session.
func (w *Writer) TestConnection(ctx context.Context) error {
	return w.conn.Exec(ctx, w.qb.CurrentDate())
}

// LoadFull replaces the table's contents with the staged data.
// The data is copied into a staging table that is then swapped with the
// target, so readers never observe an empty or partially written table.
func (w *Writer) LoadFull(ctx context.Context, spec models.TableSpec, adapter staging.Adapter) (err error) {
	stagingName := GenerateStagingName(spec.DBName)
	w.logger.Info("Starting full load",
		zap.String("table", spec.DBName),
		zap.String("staging_table", stagingName))

	if err := w.conn.Exec(ctx, w.qb.CreateTable(stagingName, false, spec.Columns, spec.PrimaryKey)); err != nil {
		return err
	}
	defer w.cleanup(ctx, &err, w.qb.DropTable(stagingName))

	// First load creates the table so there is something to swap with.
	if err := w.conn.Exec(ctx, w.qb.CreateTable(spec.DBName, false, spec.Columns, spec.PrimaryKey)); err != nil {
		return err
	}
	if err := w.writeData(ctx, stagingName, spec, adapter); err != nil {
		return err
	}
	if err := w.conn.Exec(ctx, w.qb.SwapTable(spec.DBName, stagingName)); err != nil {
		return err
	}

	w.logger.Info("Full load finished", zap.String("table", spec.DBName))
	return nil
}

// LoadIncremental merges the staged data into the table on its primary key.
// Rows with a matching key are updated, the rest are inserted. Without a
// primary key every staged row is appended.
func (w *Writer) LoadIncremental(ctx context.Context, spec models.TableSpec, adapter staging.Adapter) (err error) {
	stagingName := GenerateStagingName(spec.DBName)
	w.logger.Info("Starting incremental load",
		zap.String("table", spec.DBName),
		zap.String("staging_table", stagingName))

	if err := w.conn.Exec(ctx, w.qb.DropTable(stagingName)); err != nil {
		return err
	}
	if err := w.conn.Exec(ctx, w.qb.CreateTable(stagingName, true, spec.Columns, spec.PrimaryKey)); err != nil {
		return err
	}
	defer w.cleanup(ctx, &err, w.qb.DropTable(stagingName))

	if err := w.writeData(ctx, stagingName, spec, adapter); err != nil {
		return err
	}

	exists, err := w.TableExists(ctx, spec.DBName)
	if err != nil {
		return err
	}
	if !exists {
		if err := w.conn.Exec(ctx, w.qb.CreateTable(spec.DBName, false, spec.Columns, spec.PrimaryKey)); err != nil {
			return err
		}
	}

	if err := w.ValidateSchema(ctx, spec); err != nil {
		return err
	}

	if len(spec.PrimaryKey) > 0 {
		if err := w.ensurePrimaryKey(ctx, spec.DBName, spec.PrimaryKey); err != nil {
			return err
		}
	}

	if err := w.merge(ctx, spec, stagingName); err != nil {
		return err
	}

	w.logger.Info("Incremental load finished", zap.String("table", spec.DBName))
	return nil
}

// merge applies staging rows to the target. UPDATE must run before DELETE,
// otherwise matched rows would be removed from staging before they are applied.
func (w *Writer) merge(ctx context.Context, spec models.TableSpec, stagingName string) error {
	var statements []string
	if len(spec.PrimaryKey) > 0 {
		statements = append(statements,
			w.qb.UpsertUpdate(spec.DBName, stagingName, spec.Columns, spec.PrimaryKey),
			w.qb.UpsertDelete(spec.DBName, stagingName, spec.PrimaryKey),
		)
	}
	statements = append(statements, w.qb.UpsertInsert(spec.DBName, stagingName, spec.Columns))

	for _, stmt := range statements {
		if err := w.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// writeData copies the staged files into table through a temporary stage.
// The stage is dropped whether or not the copy succeeds.
func (w *Writer) writeData(ctx context.Context, table string, spec models.TableSpec, adapter staging.Adapter) (err error) {
	stageName := GenerateStageName(w.cfg.RunID)

	createStage, err := adapter.CreateStageStatement(stageName)
	if err != nil {
		return err
	}
	copies, err := adapter.CopyStatements(w.qb.TableNameWithSchema(table), stageName, spec.Columns)
	if err != nil {
		return err
	}

	if err := w.conn.Exec(ctx, createStage); err != nil {
		return err
	}
	defer w.cleanup(ctx, &err, w.qb.DropStage(stageName))

	for _, stmt := range copies {
		if err := w.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// cleanup runs a drop statement on every exit path. Its failure is returned
// only when nothing failed before it; otherwise the original error wins.
func (w *Writer) cleanup(ctx context.Context, errp *error, stmt string) {
	cerr := w.conn.Exec(context.WithoutCancel(ctx), stmt)
	if cerr == nil {
		return
	}
	if *errp == nil {
		*errp = cerr
		return
	}
	w.logger.Warn("Cleanup failed", zap.String("statement", stmt), zap.Error(cerr))
}

// ValidateSchema checks that the table's columns match the active columns of
// spec by name (case-insensitive) and by type.
func (w *Writer) ValidateSchema(ctx context.Context, spec models.TableSpec) error {
	observed, err := w.describeColumns(ctx, spec.DBName)
	if err != nil {
		return err
	}
	declared := spec.ActiveColumns()

	declaredNames := make(map[string]bool, len(declared))
	var missingInTable []string
	for _, col := range declared {
		key := strings.ToLower(col.DBName)
		declaredNames[key] = true
		if _, ok := observed[key]; !ok {
			missingInTable = append(missingInTable, col.DBName)
		}
	}
	var missingInConfig []string
	for key, col := range observed {
		if !declaredNames[key] {
			missingInConfig = append(missingInConfig, col.String("name"))
		}
	}
	if len(missingInTable) > 0 || len(missingInConfig) > 0 {
		slices.Sort(missingInConfig)
		return apperrors.NewUserError(apperrors.ErrInvalidSpec,
			"Columns in configuration do not match columns in table %q.\nMissing in table: %s\nMissing in configuration: %s",
			spec.DBName, strings.Join(missingInTable, ", "), strings.Join(missingInConfig, ", "))
	}

	mapping, err := w.TimestampMapping(ctx)
	if err != nil {
		return err
	}

	var mismatches []string
	for _, col := range declared {
		desired := datatype.FromColumnSpec(col)
		actual, err := datatype.FromWarehouseMetadata(observed[strings.ToLower(col.DBName)])
		if err != nil {
			return apperrors.NewApplicationError(err, "column %q of table %q: %s", col.DBName, spec.DBName, err.Error())
		}
		ok, err := desired.Matches(actual, mapping)
		if err != nil {
			return apperrors.NewApplicationError(err, "%s", err.Error())
		}
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: configuration %s, table %s",
				col.DBName, desired.SQLDefinition(), actual.SQLDefinition()))
		}
	}
	if len(mismatches) > 0 {
		return apperrors.NewUserError(apperrors.ErrInvalidSpec,
			"Column types in configuration do not match table %q:\n%s",
			spec.DBName, strings.Join(mismatches, "\n"))
	}
	return nil
}

// describeColumns returns the DESCRIBE TABLE rows of kind COLUMN keyed by lower-cased name.
func (w *Writer) describeColumns(ctx context.Context, table string) (map[string]datasource.Row, error) {
	rows, err := w.DescribeTable(ctx, table)
	if err != nil {
		return nil, err
	}
	columns := make(map[string]datasource.Row, len(rows))
	for _, row := range rows {
		if row.String("kind") != "COLUMN" {
			continue
		}
		columns[strings.ToLower(row.String("name"))] = row
	}
	return columns, nil
}

// TimestampMapping returns the session's TIMESTAMP_TYPE_MAPPING. It is read once per Writer.
func (w *Writer) TimestampMapping(ctx context.Context) (string, error) {
	if w.timestampMapping != "" {
		return w.timestampMapping, nil
	}

	rows, err := w.conn.FetchAll(ctx, w.qb.ShowParameter(timestampMappingParameter))
	if err != nil {
		return "", err
	}
	mapping := datatype.TimestampMappingNTZ
	for _, row := range rows {
		if row.String("key") == timestampMappingParameter && row.String("value") != "" {
			mapping = strings.ToUpper(row.String("value"))
		}
	}

	w.timestampMapping = mapping
	return mapping, nil
}

func (w *Writer) ensurePrimaryKey(ctx context.Context, table string, declared []string) error {
	existing, err := w.PrimaryKey(ctx, table)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		w.logger.Info("Adding primary key",
			zap.String("table", table),
			zap.Strings("columns", declared))
		return w.conn.Exec(ctx, w.qb.AddPrimaryKey(table, declared))
	}
	return ComparePrimaryKeys(declared, existing)
}

// CheckPrimaryKey verifies that the table's primary key has the declared columns.
func (w *Writer) CheckPrimaryKey(ctx context.Context, table string, declared []string) error {
	existing, err := w.PrimaryKey(ctx, table)
	if err != nil {
		return err
	}
	return ComparePrimaryKeys(declared, existing)
}

// ComparePrimaryKeys compares key column sets, ignoring order.
func ComparePrimaryKeys(declared, existing []string) error {
	a := slices.Sorted(slices.Values(declared))
	b := slices.Sorted(slices.Values(existing))
	if slices.Equal(a, b) {
		return nil
	}
	return apperrors.NewUserError(apperrors.ErrInvalidSpec,
		"Primary key(s) in configuration does NOT match with keys in DB table.\nKeys in configuration: %s\nKeys in DB table: %s",
		strings.Join(a, ","), strings.Join(b, ","))
}

// PrimaryKey returns the table's primary key columns in table order.
func (w *Writer) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	return w.flaggedColumns(ctx, table, "primary key")
}

// UniqueKeys returns the table's columns that carry a unique constraint.
func (w *Writer) UniqueKeys(ctx context.Context, table string) ([]string, error) {
	return w.flaggedColumns(ctx, table, "unique key")
}

func (w *Writer) flaggedColumns(ctx context.Context, table, flag string) ([]string, error) {
	rows, err := w.DescribeTable(ctx, table)
	if err != nil {
		return nil, err
	}
	var columns []string
	for _, row := range rows {
		if row.String(flag) == "Y" {
			columns = append(columns, row.String("name"))
		}
	}
	return columns, nil
}

// ProvisionForeignKeys adds the foreign keys declared on spec's columns.
// References to tables that do not exist yet are skipped.
func (w *Writer) ProvisionForeignKeys(ctx context.Context, spec models.TableSpec) error {
	for _, col := range spec.ForeignKeyColumns() {
		exists, err := w.TableExists(ctx, col.ForeignKeyTable)
		if err != nil {
			return err
		}
		if !exists {
			w.logger.Info("Skipping foreign key, referenced table does not exist",
				zap.String("table", spec.DBName),
				zap.String("column", col.DBName),
				zap.String("foreign_key_table", col.ForeignKeyTable))
			continue
		}

		same, err := w.sameTypeColumns(ctx, spec.DBName, col.DBName, col.ForeignKeyTable, col.ForeignKeyColumn)
		if err != nil {
			return err
		}
		if !same {
			return apperrors.NewUserError(apperrors.ErrInvalidSpec,
				`Foreign key column "%s" in table "%s" has different type than column "%s" in table "%s"; type, length and nullability must match`,
				col.ForeignKeyColumn, col.ForeignKeyTable, col.DBName, spec.DBName)
		}

		if err := w.addUniqueKeyIfMissing(ctx, col.ForeignKeyTable, col.ForeignKeyColumn); err != nil {
			return err
		}

		w.logger.Info("Adding foreign key",
			zap.String("table", spec.DBName),
			zap.String("column", col.DBName),
			zap.String("foreign_key_table", col.ForeignKeyTable),
			zap.String("foreign_key_column", col.ForeignKeyColumn))
		if err := w.conn.Exec(ctx, w.qb.AddForeignKey(spec.DBName, col.DBName, col.ForeignKeyTable, col.ForeignKeyColumn)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) sameTypeColumns(ctx context.Context, table, column, refTable, refColumn string) (bool, error) {
	source, err := w.columnDefinition(ctx, table, column)
	if err != nil {
		return false, err
	}
	target, err := w.columnDefinition(ctx, refTable, refColumn)
	if err != nil {
		return false, err
	}
	mapping, err := w.TimestampMapping(ctx)
	if err != nil {
		return false, err
	}
	same, err := source.SameAs(target, mapping)
	if err != nil {
		return false, apperrors.NewApplicationError(err, "%s", err.Error())
	}
	return same, nil
}

func (w *Writer) columnDefinition(ctx context.Context, table, column string) (datatype.Definition, error) {
	columns, err := w.describeColumns(ctx, table)
	if err != nil {
		return datatype.Definition{}, err
	}
	row, ok := columns[strings.ToLower(column)]
	if !ok {
		return datatype.Definition{}, apperrors.NewUserError(apperrors.ErrNotFound,
			"Column '%s' in table '%s' not found", column, table)
	}
	def, err := datatype.FromWarehouseMetadata(row)
	if err != nil {
		return datatype.Definition{}, apperrors.NewApplicationError(err, "%s", err.Error())
	}
	return def, nil
}

func (w *Writer) addUniqueKeyIfMissing(ctx context.Context, table, column string) error {
	unique, err := w.UniqueKeys(ctx, table)
	if err != nil {
		return err
	}
	if slices.Contains(unique, column) {
		return nil
	}
	return w.conn.Exec(ctx, w.qb.AddUniqueKey(table, column))
}

// TableExists reports whether the table exists in the configured database and schema.
func (w *Writer) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := w.conn.FetchAll(ctx, w.qb.TableExists(table))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// DropTable drops the table if it exists.
func (w *Writer) DropTable(ctx context.Context, table string) error {
	return w.conn.Exec(ctx, w.qb.DropTable(table))
}

// DescribeTable returns one row per column: name, type, kind, null?, default,
// primary key and unique key.
func (w *Writer) DescribeTable(ctx context.Context, table string) ([]datasource.Row, error) {
	return w.conn.FetchAll(ctx, w.qb.DescribeTable(table))
}

// Constraints returns the names of the table's constraints of one type, e.g. FOREIGN KEY.
func (w *Writer) Constraints(ctx context.Context, table, constraintType string) ([]string, error) {
	rows, err := w.conn.FetchAll(ctx, w.qb.TableConstraints(table, constraintType))
	if err != nil {
		return nil, err
	}
	return datasource.Strings(rows, "CONSTRAINT_NAME"), nil
}

// GenerateStagingName returns <table>_temp_<32 hex chars>, truncating the
// table part so the name fits the warehouse limit.
func GenerateStagingName(table string) string {
	suffix := "_temp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return truncateRunes(table, maxObjectNameLength-len(suffix)) + suffix
}

// GenerateStageName returns db-writer-<runID>-<8 hex chars>. Dots in the run ID
// become dashes.
func GenerateStageName(runID string) string {
	suffix := "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	name := stagePrefix
	if runID != "" {
		name += "-" + strings.ReplaceAll(runID, ".", "-")
	}
	name = strings.TrimRight(truncateRunes(name, maxObjectNameLength-len(suffix)), "-")
	return name + suffix
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
