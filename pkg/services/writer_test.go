package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource"
	"github.com/wr-db/snowflake-writer/pkg/adapters/staging"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
	"github.com/wr-db/snowflake-writer/pkg/testhelpers"
)

const objectDoesNotExist = "SQL compilation error: Object does not exist, or operation cannot be performed."

func testWriterConfig() WriterConfig {
	return WriterConfig{Database: "DB", Schema: "PUBLIC", Warehouse: "WH", RunID: "123.456"}
}

func simpleSpec(mode models.LoadMode) models.TableSpec {
	return models.TableSpec{
		TableID: "in.c-bucket.simple",
		DBName:  "simple",
		Export:  true,
		Columns: []models.ColumnSpec{
			{Name: "id", DBName: "id", Type: "int"},
			{Name: "name", DBName: "name", Type: "varchar"},
			{Name: "glasses", DBName: "glasses", Type: "varchar", Nullable: true},
		},
		PrimaryKey: []string{"id"},
		LoadMode:   mode,
	}
}

func describeRow(name, typ string, nullable, pk, unique bool) datasource.Row {
	flag := func(b bool) string {
		if b {
			return "Y"
		}
		return "N"
	}
	return datasource.Row{
		"name":        name,
		"type":        typ,
		"kind":        "COLUMN",
		"null?":       flag(nullable),
		"default":     nil,
		"primary key": flag(pk),
		"unique key":  flag(unique),
	}
}

func simpleTableRows(withPK bool) []datasource.Row {
	return []datasource.Row{
		describeRow("id", "NUMBER(38,0)", false, withPK, false),
		describeRow("name", "VARCHAR(16777216)", false, false, false),
		describeRow("glasses", "VARCHAR(16777216)", true, false, false),
	}
}

func singleFileAdapter() staging.Adapter {
	return staging.NewManifestAdapter(sqlbuilder.DefaultQuoter{}, models.StagingManifest{
		StageURL:      "s3://bucket",
		FilePrefix:    "s3://bucket/",
		FileLocations: []string{"s3://bucket/in/simple.csv"},
		Credentials:   []models.StageCredential{{Key: "AWS_KEY_ID", Value: "key"}},
	})
}

func newTestWriter(t *testing.T, conn *testhelpers.FakeConnection) *Writer {
	t.Helper()
	w, err := NewWriter(context.Background(), conn, testWriterConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return w
}

// assertOrder checks that statements with the given prefixes were issued in order.
func assertOrder(t *testing.T, conn *testhelpers.FakeConnection, prefixes ...string) {
	t.Helper()
	last := -1
	for _, prefix := range prefixes {
		idx := -1
		for i, stmt := range conn.Statements() {
			if i > last && strings.HasPrefix(stmt, prefix) {
				idx = i
				break
			}
		}
		require.NotEqual(t, -1, idx, "statement %q not issued after position %d; got %v", prefix, last, conn.Statements())
		last = idx
	}
}

func TestNewWriter_BootstrapOrder(t *testing.T) {
	conn := testhelpers.NewFakeConnection()
	newTestWriter(t, conn)

	assert.Equal(t, []string{
		"ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS = 3600",
		`USE WAREHOUSE "WH"`,
		`USE SCHEMA "PUBLIC"`,
	}, conn.Statements())
}

func TestNewWriter_UsesDefaultWarehouse(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT CURRENT_USER", datasource.Row{"CURRENT_USER": "WRITER"}).
		OnQuery(`DESC USER "WRITER"`,
			datasource.Row{"property": "DISPLAY_NAME", "value": "writer"},
			datasource.Row{"property": "DEFAULT_WAREHOUSE", "value": "DEFAULT_WH"})

	cfg := testWriterConfig()
	cfg.Warehouse = ""
	_, err := NewWriter(context.Background(), conn, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 3, conn.IndexOf(`USE WAREHOUSE "DEFAULT_WH"`))
}

func TestNewWriter_NoWarehouse(t *testing.T) {
	tests := []struct {
		name  string
		props []datasource.Row
	}{
		{name: "not set", props: []datasource.Row{{"property": "DISPLAY_NAME", "value": "writer"}}},
		{name: "null value", props: []datasource.Row{{"property": "DEFAULT_WAREHOUSE", "value": "null"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testhelpers.NewFakeConnection().
				OnQuery("SELECT CURRENT_USER", datasource.Row{"CURRENT_USER": "WRITER"}).
				OnQuery("DESC USER", tt.props...)

			cfg := testWriterConfig()
			cfg.Warehouse = ""
			_, err := NewWriter(context.Background(), conn, cfg, zaptest.NewLogger(t))
			require.Error(t, err)
			assert.True(t, apperrors.IsUserError(err))
			assert.Equal(t, `Snowflake user has any "DEFAULT_WAREHOUSE" specified. Set "warehouse" parameter.`, err.Error())
			assert.True(t, conn.Closed())
			assert.Equal(t, -1, conn.IndexOf("USE"))
		})
	}
}

func TestNewWriter_InvalidWarehouse(t *testing.T) {
	conn := testhelpers.NewFakeConnection().FailOn("USE WAREHOUSE", objectDoesNotExist)

	_, err := NewWriter(context.Background(), conn, testWriterConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Equal(t, `Invalid warehouse "WH" specified`, err.Error())
	assert.Equal(t, -1, conn.IndexOf("USE SCHEMA"))
}

func TestNewWriter_InvalidSchema(t *testing.T) {
	conn := testhelpers.NewFakeConnection().FailOn("USE SCHEMA", objectDoesNotExist)

	_, err := NewWriter(context.Background(), conn, testWriterConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, `Invalid schema "PUBLIC" specified`, err.Error())
}

func TestNewWriter_OtherSchemaErrorPassesThrough(t *testing.T) {
	conn := testhelpers.NewFakeConnection().FailOn("USE SCHEMA", "Insufficient privileges")

	_, err := NewWriter(context.Background(), conn, testWriterConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, "Query execution error: Insufficient privileges", err.Error())
}

func TestLoadFull_Protocol(t *testing.T) {
	conn := testhelpers.NewFakeConnection()
	w := newTestWriter(t, conn)

	err := w.LoadFull(context.Background(), simpleSpec(models.LoadModeFull), singleFileAdapter())
	require.NoError(t, err)

	creates := conn.StatementsWithPrefix("CREATE TABLE IF NOT EXISTS")
	require.Len(t, creates, 2)
	assert.Contains(t, creates[0], `"PUBLIC"."simple_temp_`)
	assert.Contains(t, creates[1], `"PUBLIC"."simple" (`)
	assert.Contains(t, creates[1], `"id" INT NOT NULL, "name" VARCHAR NOT NULL, "glasses" VARCHAR NULL, PRIMARY KEY("id")`)

	assertOrder(t, conn,
		`CREATE TABLE IF NOT EXISTS "PUBLIC"."simple_temp_`,
		`CREATE TABLE IF NOT EXISTS "PUBLIC"."simple" (`,
		"CREATE OR REPLACE STAGE",
		`COPY INTO "PUBLIC"."simple_temp_`,
		"DROP STAGE IF EXISTS",
		`ALTER TABLE "PUBLIC"."simple" SWAP WITH "PUBLIC"."simple_temp_`,
		`DROP TABLE IF EXISTS "PUBLIC"."simple_temp_`,
	)

	copies := conn.StatementsWithPrefix("COPY INTO")
	require.Len(t, copies, 1)
	assert.Contains(t, copies[0], `("id", "name", "glasses")`)
	assert.Contains(t, copies[0], `SELECT t.$1, t.$2, IFF(t.$3 = '', null, t.$3)`)
	assert.Contains(t, copies[0], `FILES = ('in/simple.csv')`)
}

func TestLoadFull_CopyFailureCleansUp(t *testing.T) {
	conn := testhelpers.NewFakeConnection().FailOn("COPY INTO", "File not found")
	w := newTestWriter(t, conn)

	err := w.LoadFull(context.Background(), simpleSpec(models.LoadModeFull), singleFileAdapter())
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Equal(t, "Query execution error: File not found", err.Error())

	assert.Equal(t, -1, conn.IndexOf("ALTER TABLE"), "must not swap after a failed copy")
	assertOrder(t, conn, "COPY INTO", "DROP STAGE IF EXISTS", `DROP TABLE IF EXISTS "PUBLIC"."simple_temp_`)
}

func TestLoadFull_CleanupFailureKeepsOriginalError(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		FailOn("ALTER TABLE", "swap failed").
		FailOn("DROP TABLE", "drop failed")
	w := newTestWriter(t, conn)

	err := w.LoadFull(context.Background(), simpleSpec(models.LoadModeFull), singleFileAdapter())
	require.Error(t, err)
	assert.Equal(t, "Query execution error: swap failed", err.Error())
}

func TestLoadFull_CleanupFailureReportedOnSuccess(t *testing.T) {
	conn := testhelpers.NewFakeConnection().FailOn("DROP TABLE", "drop failed")
	w := newTestWriter(t, conn)

	err := w.LoadFull(context.Background(), simpleSpec(models.LoadModeFull), singleFileAdapter())
	require.Error(t, err)
	assert.Equal(t, "Query execution error: drop failed", err.Error())
}

func TestLoadFull_NullAdapter(t *testing.T) {
	conn := testhelpers.NewFakeConnection()
	w := newTestWriter(t, conn)

	err := w.LoadFull(context.Background(), simpleSpec(models.LoadModeFull), staging.NullAdapter{})
	require.Error(t, err)
	assert.True(t, apperrors.IsApplicationError(err))
	assert.Equal(t, -1, conn.IndexOf("ALTER TABLE"))
	assert.NotEqual(t, -1, conn.IndexOf(`DROP TABLE IF EXISTS "PUBLIC"."simple_temp_`))
}

func TestLoadIncremental_Merge(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "simple"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`, simpleTableRows(true)...).
		OnQuery("SHOW PARAMETERS", datasource.Row{"key": "TIMESTAMP_TYPE_MAPPING", "value": "TIMESTAMP_NTZ"})
	w := newTestWriter(t, conn)

	err := w.LoadIncremental(context.Background(), simpleSpec(models.LoadModeIncremental), singleFileAdapter())
	require.NoError(t, err)

	assertOrder(t, conn,
		`DROP TABLE IF EXISTS "PUBLIC"."simple_temp_`,
		`CREATE TEMPORARY TABLE "PUBLIC"."simple_temp_`,
		"CREATE OR REPLACE STAGE",
		`COPY INTO "PUBLIC"."simple_temp_`,
		"DROP STAGE IF EXISTS",
		"SELECT * FROM INFORMATION_SCHEMA.TABLES",
		`DESCRIBE TABLE "PUBLIC"."simple"`,
		`UPDATE "PUBLIC"."simple" SET`,
		`DELETE FROM "PUBLIC"."simple_temp_`,
		`INSERT INTO "PUBLIC"."simple" ("id", "name", "glasses") SELECT * FROM "PUBLIC"."simple_temp_`,
		`DROP TABLE IF EXISTS "PUBLIC"."simple_temp_`,
	)
	assert.Empty(t, conn.StatementsWithPrefix(`CREATE TABLE IF NOT EXISTS "PUBLIC"."simple" (`), "existing target must not be recreated")
	assert.Empty(t, conn.StatementsWithPrefix("ALTER TABLE"), "existing matching key must not be re-added")

	update := conn.StatementsWithPrefix("UPDATE")[0]
	assert.Contains(t, update, `WHERE "PUBLIC"."simple"."id" = "PUBLIC"."simple_temp_`)
}

func TestLoadIncremental_CreatesTargetAndPrimaryKey(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`, simpleTableRows(false)...)
	w := newTestWriter(t, conn)

	err := w.LoadIncremental(context.Background(), simpleSpec(models.LoadModeIncremental), singleFileAdapter())
	require.NoError(t, err)

	assertOrder(t, conn,
		"SELECT * FROM INFORMATION_SCHEMA.TABLES",
		`CREATE TABLE IF NOT EXISTS "PUBLIC"."simple" (`,
		`ALTER TABLE "PUBLIC"."simple" ADD PRIMARY KEY("id")`,
		"UPDATE",
		"DELETE",
		"INSERT",
	)
}

func TestLoadIncremental_WithoutPrimaryKeyAppends(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "simple"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`, simpleTableRows(false)...)
	w := newTestWriter(t, conn)

	spec := simpleSpec(models.LoadModeIncremental)
	spec.PrimaryKey = nil
	require.NoError(t, w.LoadIncremental(context.Background(), spec, singleFileAdapter()))

	assert.Empty(t, conn.StatementsWithPrefix("UPDATE"))
	assert.Empty(t, conn.StatementsWithPrefix("DELETE"))
	assert.Len(t, conn.StatementsWithPrefix("INSERT INTO"), 1)
}

func TestLoadIncremental_PrimaryKeyMismatch(t *testing.T) {
	rows := simpleTableRows(true)
	rows[1]["primary key"] = "Y"
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "simple"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`, rows...)
	w := newTestWriter(t, conn)

	err := w.LoadIncremental(context.Background(), simpleSpec(models.LoadModeIncremental), singleFileAdapter())
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Equal(t,
		"Primary key(s) in configuration does NOT match with keys in DB table.\nKeys in configuration: id\nKeys in DB table: id,name",
		err.Error())

	assert.Empty(t, conn.StatementsWithPrefix("UPDATE"))
	statements := conn.Statements()
	assert.True(t, strings.HasPrefix(statements[len(statements)-1], `DROP TABLE IF EXISTS "PUBLIC"."simple_temp_`))
}

func TestValidateSchema_MissingColumns(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`,
			describeRow("id", "NUMBER(38,0)", false, true, false),
			describeRow("extra", "VARCHAR(16777216)", true, false, false),
		)
	w := newTestWriter(t, conn)

	err := w.ValidateSchema(context.Background(), simpleSpec(models.LoadModeIncremental))
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Contains(t, err.Error(), "Missing in table: name, glasses")
	assert.Contains(t, err.Error(), "Missing in configuration: extra")
}

func TestValidateSchema_NamesAreCaseInsensitive(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`,
			describeRow("ID", "NUMBER(38,0)", false, true, false),
			describeRow("NAME", "VARCHAR(16777216)", false, false, false),
			describeRow("GLASSES", "VARCHAR(16777216)", true, false, false),
		)
	w := newTestWriter(t, conn)

	assert.NoError(t, w.ValidateSchema(context.Background(), simpleSpec(models.LoadModeIncremental)))
}

func TestValidateSchema_TypeMismatch(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`,
			describeRow("id", "VARCHAR(16777216)", false, true, false),
			describeRow("name", "VARCHAR(255)", false, false, false),
			describeRow("glasses", "VARCHAR(16777216)", false, false, false),
		)
	w := newTestWriter(t, conn)

	err := w.ValidateSchema(context.Background(), simpleSpec(models.LoadModeIncremental))
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Contains(t, err.Error(), "id: configuration INT NOT NULL, table VARCHAR(16777216) NOT NULL")
	assert.Contains(t, err.Error(), "name: configuration VARCHAR NOT NULL, table VARCHAR(255) NOT NULL")
	assert.Contains(t, err.Error(), "glasses: configuration VARCHAR NULL, table VARCHAR(16777216) NOT NULL")
}

func TestTimestampMapping_ReadOnce(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SHOW PARAMETERS", datasource.Row{"key": "TIMESTAMP_TYPE_MAPPING", "value": "timestamp_ltz"})
	w := newTestWriter(t, conn)

	for range 3 {
		mapping, err := w.TimestampMapping(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "TIMESTAMP_LTZ", mapping)
	}
	assert.Len(t, conn.StatementsWithPrefix("SHOW PARAMETERS LIKE 'TIMESTAMP_TYPE_MAPPING'"), 1)
}

func TestComparePrimaryKeys(t *testing.T) {
	assert.NoError(t, ComparePrimaryKeys([]string{"id", "name"}, []string{"name", "id"}))

	err := ComparePrimaryKeys([]string{"id"}, []string{"id", "name"})
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
}

func TestCheckPrimaryKey(t *testing.T) {
	rows := simpleTableRows(true)
	rows[1]["primary key"] = "Y"
	conn := testhelpers.NewFakeConnection().
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`, rows...)
	w := newTestWriter(t, conn)

	assert.NoError(t, w.CheckPrimaryKey(context.Background(), "simple", []string{"name", "id"}))
	assert.Error(t, w.CheckPrimaryKey(context.Background(), "simple", []string{"id"}))
}

func fkSpec() models.TableSpec {
	return models.TableSpec{
		DBName: "orders",
		Columns: []models.ColumnSpec{
			{Name: "id", DBName: "id", Type: "int"},
			{Name: "customer_id", DBName: "customer_id", Type: "int", ForeignKeyTable: "customers", ForeignKeyColumn: "id"},
		},
		LoadMode: models.LoadModeFull,
	}
}

func TestProvisionForeignKeys_AddsUniqueAndForeignKey(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "customers"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."orders"`,
			describeRow("id", "NUMBER(38,0)", false, false, false),
			describeRow("customer_id", "NUMBER(38,0)", false, false, false)).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."customers"`,
			describeRow("id", "NUMBER(38,0)", false, false, false))
	w := newTestWriter(t, conn)

	require.NoError(t, w.ProvisionForeignKeys(context.Background(), fkSpec()))

	assertOrder(t, conn,
		`ALTER TABLE "PUBLIC"."customers" ADD UNIQUE ("id")`,
		`ALTER TABLE "PUBLIC"."orders" ADD CONSTRAINT "FK_customers_id" FOREIGN KEY ("customer_id") REFERENCES "PUBLIC"."customers"("id")`,
	)
}

func TestProvisionForeignKeys_ExistingUniqueKey(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "customers"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."orders"`,
			describeRow("customer_id", "NUMBER(38,0)", false, false, false)).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."customers"`,
			describeRow("id", "NUMBER(38,0)", false, true, true))
	w := newTestWriter(t, conn)

	require.NoError(t, w.ProvisionForeignKeys(context.Background(), fkSpec()))
	assert.Empty(t, conn.StatementsWithPrefix(`ALTER TABLE "PUBLIC"."customers"`))
	assert.Len(t, conn.StatementsWithPrefix(`ALTER TABLE "PUBLIC"."orders" ADD CONSTRAINT`), 1)
}

func TestProvisionForeignKeys_SkipsMissingTable(t *testing.T) {
	conn := testhelpers.NewFakeConnection()
	w := newTestWriter(t, conn)

	require.NoError(t, w.ProvisionForeignKeys(context.Background(), fkSpec()))
	assert.Empty(t, conn.StatementsWithPrefix("ALTER TABLE"))
	assert.Empty(t, conn.StatementsWithPrefix("DESCRIBE TABLE"))
}

func TestProvisionForeignKeys_TypeMismatch(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "customers"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."orders"`,
			describeRow("customer_id", "NUMBER(38,0)", false, false, false)).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."customers"`,
			describeRow("id", "VARCHAR(255)", false, true, true))
	w := newTestWriter(t, conn)

	err := w.ProvisionForeignKeys(context.Background(), fkSpec())
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Equal(t, `Foreign key column "id" in table "customers" has different type than column "customer_id" in table "orders"; type, length and nullability must match`, err.Error())
	assert.Empty(t, conn.StatementsWithPrefix("ALTER TABLE"))
}

func TestProvisionForeignKeys_MissingColumn(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT * FROM INFORMATION_SCHEMA.TABLES", datasource.Row{"TABLE_NAME": "customers"})
	w := newTestWriter(t, conn)

	err := w.ProvisionForeignKeys(context.Background(), fkSpec())
	require.Error(t, err)
	assert.Equal(t, "Column 'customer_id' in table 'orders' not found", err.Error())
}

func TestIntrospection(t *testing.T) {
	conn := testhelpers.NewFakeConnection().
		OnQuery("SELECT CONSTRAINT_NAME", datasource.Row{"CONSTRAINT_NAME": "FK_customers_id"}).
		OnQuery(`DESCRIBE TABLE "PUBLIC"."simple"`, simpleTableRows(true)...)
	w := newTestWriter(t, conn)
	ctx := context.Background()

	exists, err := w.TableExists(ctx, "simple")
	require.NoError(t, err)
	assert.False(t, exists)

	names, err := w.Constraints(ctx, "orders", "foreign key")
	require.NoError(t, err)
	assert.Equal(t, []string{"FK_customers_id"}, names)
	assert.Contains(t, conn.StatementsWithPrefix("SELECT CONSTRAINT_NAME")[0], "CONSTRAINT_TYPE = 'FOREIGN KEY'")

	rows, err := w.DescribeTable(ctx, "simple")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	pk, err := w.PrimaryKey(ctx, "simple")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk)

	require.NoError(t, w.DropTable(ctx, "simple"))
	assert.NotEqual(t, -1, conn.IndexOf(`DROP TABLE IF EXISTS "PUBLIC"."simple"`))

	require.NoError(t, w.TestConnection(ctx))
	assert.NotEqual(t, -1, conn.IndexOf("SELECT current_date"))

	require.NoError(t, w.Close())
	assert.True(t, conn.Closed())
}

func TestGenerateStagingName_UniqueUnderConcurrency(t *testing.T) {
	const n = 200
	names := make([]string, 2*n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			names[2*i] = GenerateStagingName("orders")
		}()
		go func() {
			defer wg.Done()
			names[2*i+1] = GenerateStagingName("customers")
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		assert.False(t, seen[name], "duplicate staging name %s", name)
		seen[name] = true
	}
	assert.Regexp(t, `^orders_temp_[0-9a-f]{32}$`, names[0])
}

func TestGenerateStagingName_Truncates(t *testing.T) {
	name := GenerateStagingName(strings.Repeat("ž", 300))
	assert.Equal(t, maxObjectNameLength, utf8.RuneCountInString(name))
	assert.True(t, utf8.ValidString(name))
	assert.Contains(t, name, "_temp_")
}

func TestGenerateStageName(t *testing.T) {
	assert.Regexp(t, `^db-writer-123-456-[0-9a-f]{8}$`, GenerateStageName("123.456"))
	assert.Regexp(t, `^db-writer-[0-9a-f]{8}$`, GenerateStageName(""))
	assert.NotEqual(t, GenerateStageName("1"), GenerateStageName("1"))

	long := GenerateStageName(strings.Repeat("1.", 200))
	assert.LessOrEqual(t, utf8.RuneCountInString(long), maxObjectNameLength)
	assert.NotContains(t, long, "--")
}
