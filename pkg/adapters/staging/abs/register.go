package abs

import (
	"context"

	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/adapters/staging"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

func init() {
	staging.Register(staging.Registration{
		Info: staging.AdapterInfo{
			Type:        models.StorageAbs,
			DisplayName: "Azure Blob Storage",
		},
		Factory: func(ctx context.Context, manifest models.TableManifest, q sqlbuilder.Quoter, logger *zap.Logger) (staging.Adapter, error) {
			if manifest.Abs == nil {
				return nil, apperrors.NewApplicationError(nil, "manifest has no abs staging info")
			}
			conn, err := ParseConnectionString(manifest.Abs.Credentials.SASConnectionString)
			if err != nil {
				return nil, err
			}
			client, err := NewClient(conn.Endpoint, conn.Signature)
			if err != nil {
				return nil, apperrors.NewUserError(err, "Load error: %s", err.Error())
			}
			return NewAdapter(ctx, *manifest.Abs, conn, client, q, logger)
		},
	})
}
