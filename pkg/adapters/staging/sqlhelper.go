package staging

import (
	"fmt"
	"strings"

	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// QuotedColumnNames returns the quoted warehouse names of the non-ignored columns.
func QuotedColumnNames(q sqlbuilder.Quoter, columns []models.ColumnSpec) []string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		if col.IsIgnored() {
			continue
		}
		names = append(names, q.QuoteIdentifier(col.DBName))
	}
	return names
}

// ColumnTransformations returns the positional file references ($n) of the
// non-ignored columns. n is the column's position among all columns, so
// ignored columns still consume a file column. Nullable columns turn an
// empty string into NULL.
func ColumnTransformations(columns []models.ColumnSpec) []string {
	refs := make([]string, 0, len(columns))
	for i, col := range columns {
		if col.IsIgnored() {
			continue
		}
		n := i + 1
		if col.Nullable {
			refs = append(refs, fmt.Sprintf("IFF(t.$%d = '', null, t.$%d)", n, n))
		} else {
			refs = append(refs, fmt.Sprintf("t.$%d", n))
		}
	}
	return refs
}

// CreateStageStatement renders CREATE OR REPLACE STAGE for a CSV source.
// A single non-sliced file carries a header row that is skipped.
func CreateStageStatement(q sqlbuilder.Quoter, stageName string, m models.StagingManifest) string {
	csvOptions := []string{
		"FIELD_DELIMITER = " + q.QuoteLiteral(","),
		"FIELD_OPTIONALLY_ENCLOSED_BY = " + q.QuoteLiteral(`"`),
		"ESCAPE_UNENCLOSED_FIELD = " + q.QuoteLiteral(`\`),
	}
	if !m.IsSliced {
		csvOptions = append(csvOptions, "SKIP_HEADER = 1")
	}

	credentials := make([]string, 0, len(m.Credentials))
	for _, c := range m.Credentials {
		credentials = append(credentials, fmt.Sprintf("%s = %s", c.Key, q.QuoteLiteral(c.Value)))
	}

	return fmt.Sprintf(
		"CREATE OR REPLACE STAGE %s FILE_FORMAT = (TYPE=CSV %s) URL = %s CREDENTIALS = (%s)",
		q.QuoteIdentifier(stageName),
		strings.Join(csvOptions, " "),
		q.QuoteLiteral(m.StageURL),
		strings.Join(credentials, " "),
	)
}

// CopyStatements renders COPY INTO statements, one per SlicedFilesChunkSize files.
// The manifest's FilePrefix is stripped from each location so paths are
// relative to the stage URL.
func CopyStatements(q sqlbuilder.Quoter, targetTable, stageName string, m models.StagingManifest, columns []models.ColumnSpec) []string {
	names := strings.Join(QuotedColumnNames(q, columns), ", ")
	refs := strings.Join(ColumnTransformations(columns), ", ")
	source := q.QuoteLiteral("@" + q.QuoteIdentifier(stageName) + "/")

	var statements []string
	for start := 0; start < len(m.FileLocations); start += SlicedFilesChunkSize {
		end := min(start+SlicedFilesChunkSize, len(m.FileLocations))

		files := make([]string, 0, end-start)
		for _, location := range m.FileLocations[start:end] {
			files = append(files, q.QuoteLiteral(strings.TrimPrefix(location, m.FilePrefix)))
		}

		statements = append(statements, fmt.Sprintf(
			"COPY INTO %s(%s) FROM (SELECT %s FROM %s t) FILES = (%s)",
			targetTable, names, refs, source, strings.Join(files, ","),
		))
	}
	return statements
}
