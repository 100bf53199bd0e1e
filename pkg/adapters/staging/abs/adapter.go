// Package abs reads staged files from Azure Blob Storage.
package abs

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/adapters/staging"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

var sasConnectionPattern = regexp.MustCompile(`BlobEndpoint=https?://(.+);SharedAccessSignature=(.+)`)

// Connection is a parsed SAS connection string.
type Connection struct {
	Endpoint  string
	Signature string
}

// ParseConnectionString extracts the endpoint host and SAS token.
func ParseConnectionString(s string) (Connection, error) {
	m := sasConnectionPattern.FindStringSubmatch(s)
	if m == nil {
		return Connection{}, apperrors.NewUserError(apperrors.ErrInvalidSpec, "Invalid ABS connection string")
	}
	return Connection{Endpoint: m[1], Signature: m[2]}, nil
}

// NewAdapter resolves the staged file locations and returns an adapter over them.
// Every referenced blob is checked for existence first because COPY INTO
// silently skips missing files.
func NewAdapter(ctx context.Context, info models.AbsStagingInfo, conn Connection, client BlobReader, q sqlbuilder.Quoter, logger *zap.Logger) (*staging.ManifestAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	containerURL := fmt.Sprintf("https://%s/%s", conn.Endpoint, info.Container)
	manifest := models.StagingManifest{
		IsSliced:   info.IsSliced,
		StageURL:   fmt.Sprintf("azure://%s/%s", conn.Endpoint, info.Container),
		FilePrefix: containerURL + "/",
		Credentials: []models.StageCredential{
			{Key: "AZURE_SAS_TOKEN", Value: conn.Signature},
		},
	}

	if !info.IsSliced {
		if err := client.Stat(ctx, info.Container, info.Name); err != nil {
			return nil, apperrors.NewUserError(err, "Load error: %s", errorText(err))
		}
		manifest.FileLocations = []string{containerURL + "/" + info.Name}
		return staging.NewManifestAdapter(q, manifest), nil
	}

	body, err := client.Download(ctx, info.Container, info.Name)
	if err != nil {
		return nil, apperrors.NewUserError(err, "Load error: manifest file was not found.")
	}

	urls, err := staging.ParseSliceManifest(body, containerURL+"/"+info.Name)
	if err != nil {
		return nil, err
	}

	marker := fmt.Sprintf("blob.core.windows.net/%s/", info.Container)
	locations := make([]string, 0, len(urls))
	for _, url := range urls {
		_, blobPath, ok := strings.Cut(url, marker)
		if !ok {
			return nil, apperrors.NewUserError(apperrors.ErrInvalidSpec,
				"Load error: slice %q is not in container %q", url, info.Container)
		}
		if blobPath == info.Name { // the manifest itself
			continue
		}
		if err := client.Stat(ctx, info.Container, blobPath); err != nil {
			return nil, apperrors.NewUserError(err, "Load error: %s", errorText(err))
		}
		locations = append(locations, strings.Replace(url, "azure://", "https://", 1))
	}
	logger.Info("Read slice manifest",
		zap.String("container", info.Container),
		zap.String("name", info.Name),
		zap.Int("slices", len(locations)))

	manifest.FileLocations = locations
	return staging.NewManifestAdapter(q, manifest), nil
}
