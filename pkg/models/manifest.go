package models

// TableManifest is the JSON document that accompanies every input table
// at <data_dir>/in/tables/<table_id>.csv.manifest.
type TableManifest struct {
	Columns []string        `json:"columns"`
	S3      *S3StagingInfo  `json:"s3,omitempty"`
	Abs     *AbsStagingInfo `json:"abs,omitempty"`
}

// StorageType returns the staging backend the manifest points at, or "" if none.
func (m TableManifest) StorageType() string {
	switch {
	case m.S3 != nil:
		return StorageS3
	case m.Abs != nil:
		return StorageAbs
	default:
		return ""
	}
}

// Staging storage backends.
const (
	StorageS3  = "s3"
	StorageAbs = "abs"
)

// S3StagingInfo locates a staged file (or its slice manifest) in S3.
type S3StagingInfo struct {
	IsSliced    bool          `json:"isSliced"`
	Region      string        `json:"region"`
	Bucket      string        `json:"bucket"`
	Key         string        `json:"key"`
	Credentials S3Credentials `json:"credentials"`
}

// S3Credentials are temporary credentials scoped to the staged files.
type S3Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

// AbsStagingInfo locates a staged file (or its slice manifest) in Azure Blob Storage.
type AbsStagingInfo struct {
	IsSliced    bool           `json:"is_sliced"`
	Region      string         `json:"region"`
	Container   string         `json:"container"`
	Name        string         `json:"name"`
	Credentials AbsCredentials `json:"credentials"`
}

// AbsCredentials hold a SAS connection string of the form
// BlobEndpoint=https://<endpoint>;SharedAccessSignature=<sas>.
type AbsCredentials struct {
	SASConnectionString string `json:"sas_connection_string"`
	Expiration          string `json:"expiration"`
}

// SliceManifest is the manifest written next to sliced files.
// Entries is nil when the key is absent or null, which is not a valid manifest.
type SliceManifest struct {
	Entries *[]SliceManifestEntry `json:"entries"`
}

// SliceManifestEntry is one physical slice.
type SliceManifestEntry struct {
	URL string `json:"url"`
}

// StageCredential is one KEY = 'value' pair of a stage CREDENTIALS clause.
type StageCredential struct {
	Key   string
	Value string
}

// StagingManifest is the resolved view of staged data a bulk copy reads from.
// It is produced once per load and never mutated.
type StagingManifest struct {
	IsSliced      bool
	StageURL      string   // stage location, e.g. s3://bucket
	FilePrefix    string   // stripped from each file location before quoting
	FileLocations []string // manifest itself excluded
	Credentials   []StageCredential
}
