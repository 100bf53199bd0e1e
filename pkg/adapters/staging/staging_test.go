package staging

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

var quoter = sqlbuilder.DefaultQuoter{}

func testColumns() []models.ColumnSpec {
	return []models.ColumnSpec{
		{Name: "id", DBName: "id", Type: "INTEGER"},
		{Name: "skip", DBName: "skip", Type: models.IgnoredType},
		{Name: "name", DBName: "name", Type: "VARCHAR", Nullable: true},
	}
}

func TestQuotedColumnNames_SkipsIgnored(t *testing.T) {
	assert.Equal(t, []string{`"id"`, `"name"`}, QuotedColumnNames(quoter, testColumns()))
}

func TestColumnTransformations_KeepsFilePositions(t *testing.T) {
	assert.Equal(t,
		[]string{"t.$1", "IFF(t.$3 = '', null, t.$3)"},
		ColumnTransformations(testColumns()))
}

func TestCreateStageStatement(t *testing.T) {
	m := models.StagingManifest{
		StageURL: "s3://bucket",
		Credentials: []models.StageCredential{
			{Key: "AWS_KEY_ID", Value: "key"},
			{Key: "AWS_SECRET_KEY", Value: "se'cret"},
		},
	}

	got := CreateStageStatement(quoter, "stage-1", m)
	assert.Equal(t,
		`CREATE OR REPLACE STAGE "stage-1" FILE_FORMAT = (TYPE=CSV FIELD_DELIMITER = ',' FIELD_OPTIONALLY_ENCLOSED_BY = '\"' ESCAPE_UNENCLOSED_FIELD = '\\' SKIP_HEADER = 1) URL = 's3://bucket' CREDENTIALS = (AWS_KEY_ID = 'key' AWS_SECRET_KEY = 'se\'cret')`,
		got)

	m.IsSliced = true
	assert.NotContains(t, CreateStageStatement(quoter, "stage-1", m), "SKIP_HEADER")
}

func TestCopyStatements_SingleFile(t *testing.T) {
	m := models.StagingManifest{
		FilePrefix:    "s3://bucket/",
		FileLocations: []string{"s3://bucket/in/t.csv"},
	}

	got := CopyStatements(quoter, `"s"."t"`, "stage", m, testColumns())
	require.Len(t, got, 1)
	assert.Equal(t,
		`COPY INTO "s"."t"("id", "name") FROM (SELECT t.$1, IFF(t.$3 = '', null, t.$3) FROM '@\"stage\"/' t) FILES = ('in/t.csv')`,
		got[0])
}

func TestCopyStatements_Chunks(t *testing.T) {
	locations := make([]string, 2*SlicedFilesChunkSize+1)
	for i := range locations {
		locations[i] = fmt.Sprintf("s3://bucket/part%d", i)
	}
	m := models.StagingManifest{IsSliced: true, FilePrefix: "s3://bucket/", FileLocations: locations}

	got := CopyStatements(quoter, `"t"`, "stage", m, testColumns())
	require.Len(t, got, 3)
	assert.Contains(t, got[2], "FILES = ('part2000')")
	assert.NotContains(t, got[0], "s3://")
}

func TestCopyStatements_NoFiles(t *testing.T) {
	assert.Empty(t, CopyStatements(quoter, `"t"`, "stage", models.StagingManifest{}, testColumns()))
}

func TestManifestAdapter(t *testing.T) {
	m := models.StagingManifest{StageURL: "s3://b", FilePrefix: "s3://b/", FileLocations: []string{"s3://b/f"}}
	adapter := NewManifestAdapter(quoter, m)

	assert.Equal(t, m, adapter.Manifest())

	stmt, err := adapter.CreateStageStatement("s")
	require.NoError(t, err)
	assert.Equal(t, CreateStageStatement(quoter, "s", m), stmt)

	stmts, err := adapter.CopyStatements(`"t"`, "s", testColumns())
	require.NoError(t, err)
	assert.Equal(t, CopyStatements(quoter, `"t"`, "s", m, testColumns()), stmts)
}

func TestNullAdapter(t *testing.T) {
	_, err := NullAdapter{}.CreateStageStatement("s")
	require.Error(t, err)
	assert.True(t, apperrors.IsApplicationError(err))
	assert.Equal(t, `Method "CreateStageStatement" not implemented`, err.Error())

	_, err = NullAdapter{}.CopyStatements(`"t"`, "s", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsApplicationError(err))
	assert.Equal(t, `Method "CopyStatements" not implemented`, err.Error())
}

func TestRegistry(t *testing.T) {
	called := false
	Register(Registration{
		Info: AdapterInfo{Type: "test-backend", DisplayName: "Test"},
		Factory: func(_ context.Context, _ models.TableManifest, _ sqlbuilder.Quoter, _ *zap.Logger) (Adapter, error) {
			called = true
			return NullAdapter{}, nil
		},
	})

	assert.NotNil(t, GetFactory("test-backend"))
	assert.Nil(t, GetFactory("nope"))
	assert.Contains(t, RegisteredAdapters(), AdapterInfo{Type: "test-backend", DisplayName: "Test"})

	_, err := GetFactory("test-backend")(context.Background(), models.TableManifest{}, quoter, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewAdapter_Unknown(t *testing.T) {
	Register(Registration{
		Info: AdapterInfo{Type: "listed-backend", DisplayName: "Listed"},
		Factory: func(context.Context, models.TableManifest, sqlbuilder.Quoter, *zap.Logger) (Adapter, error) {
			return NullAdapter{}, nil
		},
	})
	core, logs := observer.New(zap.WarnLevel)

	_, err := NewAdapter(context.Background(), models.TableManifest{}, quoter, zap.New(core))
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Equal(t, "Unknown input adapter", err.Error())

	entries := logs.FilterMessage("Manifest names no registered staging storage").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["available"], "listed-backend (Listed)")
}
