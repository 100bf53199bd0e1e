// Package staging turns staged files in cloud storage into warehouse stage
// definitions and bulk-copy statements.
package staging

import (
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// SlicedFilesChunkSize caps the FILES list of one COPY INTO statement.
const SlicedFilesChunkSize = 1000

// Adapter produces the statements that move staged files into a table.
type Adapter interface {
	// CreateStageStatement defines a CSV stage pointing at the staged files.
	CreateStageStatement(stageName string) (string, error)

	// CopyStatements returns one COPY INTO per chunk of files. targetTable must
	// already be quoted; columns keep ignored entries for positional alignment.
	CopyStatements(targetTable, stageName string, columns []models.ColumnSpec) ([]string, error)
}

// ManifestAdapter implements Adapter on top of a resolved StagingManifest.
// Storage backends only differ in how they produce the manifest.
type ManifestAdapter struct {
	quoter   sqlbuilder.Quoter
	manifest models.StagingManifest
}

var _ Adapter = (*ManifestAdapter)(nil)

// NewManifestAdapter wraps a resolved manifest.
func NewManifestAdapter(q sqlbuilder.Quoter, manifest models.StagingManifest) *ManifestAdapter {
	return &ManifestAdapter{quoter: q, manifest: manifest}
}

// Manifest returns the resolved manifest.
func (a *ManifestAdapter) Manifest() models.StagingManifest {
	return a.manifest
}

func (a *ManifestAdapter) CreateStageStatement(stageName string) (string, error) {
	return CreateStageStatement(a.quoter, stageName, a.manifest), nil
}

func (a *ManifestAdapter) CopyStatements(targetTable, stageName string, columns []models.ColumnSpec) ([]string, error) {
	return CopyStatements(a.quoter, targetTable, stageName, a.manifest, columns), nil
}

// NullAdapter is used when a table has no staged data. Reaching it is a defect.
type NullAdapter struct{}

var _ Adapter = NullAdapter{}

func (NullAdapter) CreateStageStatement(string) (string, error) {
	return "", apperrors.NewApplicationError(nil, `Method "CreateStageStatement" not implemented`)
}

func (NullAdapter) CopyStatements(string, string, []models.ColumnSpec) ([]string, error) {
	return nil, apperrors.NewApplicationError(nil, `Method "CopyStatements" not implemented`)
}
