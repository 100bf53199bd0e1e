package s3

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
			Type:        models.StorageS3,
			DisplayName: "Amazon S3",
		},
		Factory: func(ctx context.Context, manifest models.TableManifest, q sqlbuilder.Quoter, logger *zap.Logger) (staging.Adapter, error) {
			if manifest.S3 == nil {
				return nil, apperrors.NewApplicationError(nil, "manifest has no s3 staging info")
			}
			client, err := NewClient(*manifest.S3)
			if err != nil {
				return nil, apperrors.NewUserError(err, "Load error: %s", err.Error())
			}
			return NewAdapter(ctx, *manifest.S3, client, q, logger)
		},
	})
}
