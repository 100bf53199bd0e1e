package staging

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// AdapterInfo describes a registered staging backend.
type AdapterInfo struct {
	Type        string // "s3", "abs"
	DisplayName string // "Amazon S3"
}

// Factory builds an adapter from a table manifest. Implementations read any
// remote slice manifest eagerly and fail with a UserError if they cannot.
type Factory func(ctx context.Context, manifest models.TableManifest, q sqlbuilder.Quoter, logger *zap.Logger) (Adapter, error)

// Registration contains info + factory for one backend.
type Registration struct {
	Info    AdapterInfo
	Factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each backend's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered backends, ordered by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

func lookup(storageType string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[storageType]
	return reg, ok
}

// GetFactory returns the factory for a storage type.
// Returns nil if type is not registered.
func GetFactory(storageType string) Factory {
	if reg, ok := lookup(storageType); ok {
		return reg.Factory
	}
	return nil
}

// NewAdapter resolves the backend named by the manifest and builds its adapter.
func NewAdapter(ctx context.Context, manifest models.TableManifest, q sqlbuilder.Quoter, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, ok := lookup(manifest.StorageType())
	if !ok {
		available := make([]string, 0)
		for _, info := range RegisteredAdapters() {
			available = append(available, fmt.Sprintf("%s (%s)", info.Type, info.DisplayName))
		}
		logger.Warn("Manifest names no registered staging storage", zap.Strings("available", available))
		return nil, apperrors.NewUserError(nil, "Unknown input adapter")
	}

	logger.Debug("Resolved staging storage", zap.String("storage", reg.Info.DisplayName))
	return reg.Factory(ctx, manifest, q, logger)
}
