package staging

import (
	"encoding/json"
	"errors"
	"slices"

	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
)

var errMissingEntries = errors.New("manifest has no entries list")

// ParseSliceManifest decodes a slice manifest read from location and returns
// the slice URLs in manifest order. Entries naming the manifest itself (any of
// self) are dropped. A manifest without an entries list is a UserError so that
// a broken upload is never loaded as zero rows; an explicit empty list is valid.
func ParseSliceManifest(body []byte, location string, self ...string) ([]string, error) {
	var manifest models.SliceManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, apperrors.NewUserError(err, "Load error: invalid manifest %s: %s", location, err.Error())
	}
	if manifest.Entries == nil {
		return nil, apperrors.NewUserError(errMissingEntries, "Load error: invalid manifest %s: %s", location, errMissingEntries.Error())
	}

	urls := make([]string, 0, len(*manifest.Entries))
	for _, entry := range *manifest.Entries {
		if slices.Contains(self, entry.URL) {
			continue
		}
		urls = append(urls, entry.URL)
	}
	return urls, nil
}
