package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wr-db/snowflake-writer/pkg/adapters/datasource"
	"github.com/wr-db/snowflake-writer/pkg/adapters/staging"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
)

// ConnectFunc opens a new warehouse session.
type ConnectFunc func(ctx context.Context) (datasource.Connection, error)

// RunnerConfig configures a multi-table run.
type RunnerConfig struct {
	// DataDir contains in/tables/<table_id>.csv.manifest for every input table.
	DataDir string

	// Concurrency bounds the number of tables loaded at once.
	Concurrency int

	Writer WriterConfig
}

// Runner loads every exported table of a configuration, then links them with
// foreign keys. Each table load runs on its own Writer and session.
type Runner struct {
	cfg        RunnerConfig
	connect    ConnectFunc
	newAdapter staging.Factory
	logger     *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithAdapterFactory replaces the staging adapter registry lookup.
func WithAdapterFactory(f staging.Factory) RunnerOption {
	return func(r *Runner) {
		r.newAdapter = f
	}
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, connect ConnectFunc, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	r := &Runner{
		cfg:        cfg,
		connect:    connect,
		newAdapter: staging.NewAdapter,
		logger:     logger.Named("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loads tables and provisions their foreign keys once every load succeeded.
// Tables with export disabled are skipped.
func (r *Runner) Run(ctx context.Context, tables []models.TableSpec) error {
	loaded := make([]*models.TableSpec, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, spec := range tables {
		if !spec.Export {
			r.logger.Info("Skipping table, export disabled", zap.String("table_id", spec.TableID))
			continue
		}
		g.Go(func() error {
			result, err := r.loadTable(gctx, spec)
			if err != nil {
				r.logger.Error("Table load failed",
					zap.String("table_id", spec.TableID),
					zap.String("table", spec.DBName),
					zap.Error(err))
				return classify(err)
			}
			loaded[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return r.provisionForeignKeys(ctx, loaded)
}

// TestConnection bootstraps a session and runs a trivial statement.
func (r *Runner) TestConnection(ctx context.Context) error {
	w, err := r.openWriter(ctx)
	if err != nil {
		return classify(err)
	}
	defer r.closeWriter(w)

	return classify(w.TestConnection(ctx))
}

// loadTable returns the effective spec of a loaded table, or nil when the
// table had nothing to write.
func (r *Runner) loadTable(ctx context.Context, spec models.TableSpec) (*models.TableSpec, error) {
	manifest, err := ReadManifest(r.cfg.DataDir, spec.TableID)
	if err != nil {
		return nil, err
	}

	spec = ReorderColumns(spec, manifest.Columns)
	if len(spec.ActiveColumns()) == 0 {
		r.logger.Info("Skipping table, no columns to write", zap.String("table_id", spec.TableID))
		return nil, nil
	}

	w, err := r.openWriter(ctx)
	if err != nil {
		return nil, err
	}
	defer r.closeWriter(w)

	adapter, err := r.newAdapter(ctx, manifest, w.Quoter(), r.logger)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Loading table",
		zap.String("table_id", spec.TableID),
		zap.String("table", spec.DBName),
		zap.String("mode", string(spec.LoadMode)))

	switch spec.LoadMode {
	case models.LoadModeIncremental:
		err = w.LoadIncremental(ctx, spec, adapter)
	default:
		err = w.LoadFull(ctx, spec, adapter)
	}
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func (r *Runner) provisionForeignKeys(ctx context.Context, loaded []*models.TableSpec) error {
	var withKeys []*models.TableSpec
	for _, spec := range loaded {
		if spec != nil && len(spec.ForeignKeyColumns()) > 0 {
			withKeys = append(withKeys, spec)
		}
	}
	if len(withKeys) == 0 {
		return nil
	}

	w, err := r.openWriter(ctx)
	if err != nil {
		return classify(err)
	}
	defer r.closeWriter(w)

	for _, spec := range withKeys {
		if err := w.ProvisionForeignKeys(ctx, *spec); err != nil {
			r.logger.Error("Foreign key provisioning failed",
				zap.String("table", spec.DBName),
				zap.Error(err))
			return classify(err)
		}
	}
	return nil
}

func (r *Runner) openWriter(ctx context.Context) (*Writer, error) {
	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	return NewWriter(ctx, conn, r.cfg.Writer, r.logger)
}

func (r *Runner) closeWriter(w *Writer) {
	if err := w.Close(); err != nil {
		r.logger.Warn("Failed to close connection", zap.Error(err))
	}
}

// classify keeps UserError and ApplicationError as they are and turns
// anything else into an ApplicationError.
func classify(err error) error {
	if err == nil || apperrors.IsUserError(err) || apperrors.IsApplicationError(err) {
		return err
	}
	return apperrors.NewApplicationError(err, "%s", err.Error())
}

// ManifestPath returns the location of a table's manifest under dataDir.
func ManifestPath(dataDir, tableID string) string {
	return filepath.Join(dataDir, "in", "tables", tableID+".csv.manifest")
}

// ReadManifest reads and decodes a table's manifest.
func ReadManifest(dataDir, tableID string) (models.TableManifest, error) {
	var manifest models.TableManifest

	path := ManifestPath(dataDir, tableID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return manifest, apperrors.NewUserError(apperrors.ErrNotFound, "Manifest for table %q not found at %s", tableID, path)
		}
		return manifest, fmt.Errorf("read manifest %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, apperrors.NewUserError(err, "Invalid manifest %s: %s", path, err.Error())
	}
	return manifest, nil
}

// ReorderColumns aligns the configured columns with the file's column order.
// File columns without a configured item become ignored placeholders so file
// column positions stay aligned; configured items missing from the file are dropped.
// The result has no columns at all when every column is ignored.
func ReorderColumns(spec models.TableSpec, fileColumns []string) models.TableSpec {
	byName := make(map[string]models.ColumnSpec, len(spec.Columns))
	for _, col := range spec.Columns {
		byName[col.Name] = col
	}

	reordered := spec.WithName(spec.DBName)
	reordered.Columns = make([]models.ColumnSpec, 0, len(fileColumns))
	active := 0
	for _, name := range fileColumns {
		col, ok := byName[name]
		if !ok {
			col = models.ColumnSpec{Name: name, DBName: name, Type: models.IgnoredType}
		}
		if !col.IsIgnored() {
			active++
		}
		reordered.Columns = append(reordered.Columns, col)
	}
	if active == 0 {
		reordered.Columns = nil
	}
	return reordered
}
