// Package s3 reads staged files from Amazon S3.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"

	"github.com/wr-db/snowflake-writer/pkg/adapters/staging"
	"github.com/wr-db/snowflake-writer/pkg/apperrors"
	"github.com/wr-db/snowflake-writer/pkg/models"
	sqlbuilder "github.com/wr-db/snowflake-writer/pkg/sql"
)

// NewClient returns an S3 client scoped to the staged files' temporary credentials.
func NewClient(info models.S3StagingInfo) (s3iface.S3API, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(info.Region),
		Credentials: credentials.NewStaticCredentials(
			info.Credentials.AccessKeyID,
			info.Credentials.SecretAccessKey,
			info.Credentials.SessionToken,
		),
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return s3.New(sess), nil
}

// NewAdapter resolves the staged file locations and returns an adapter over them.
// For sliced files the slice manifest is read from S3 immediately.
func NewAdapter(ctx context.Context, info models.S3StagingInfo, client s3iface.S3API, q sqlbuilder.Quoter, logger *zap.Logger) (*staging.ManifestAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	prefix := "s3://" + info.Bucket
	manifest := models.StagingManifest{
		IsSliced:   info.IsSliced,
		StageURL:   prefix,
		FilePrefix: prefix + "/",
		Credentials: []models.StageCredential{
			{Key: "AWS_KEY_ID", Value: info.Credentials.AccessKeyID},
			{Key: "AWS_SECRET_KEY", Value: info.Credentials.SecretAccessKey},
			{Key: "AWS_TOKEN", Value: info.Credentials.SessionToken},
		},
	}

	if !info.IsSliced {
		manifest.FileLocations = []string{prefix + "/" + info.Key}
		return staging.NewManifestAdapter(q, manifest), nil
	}

	entries, err := readSliceManifest(ctx, client, info.Bucket, strings.TrimLeft(info.Key, "/"))
	if err != nil {
		return nil, err
	}
	logger.Info("Read slice manifest",
		zap.String("bucket", info.Bucket),
		zap.String("key", info.Key),
		zap.Int("slices", len(entries)))

	manifest.FileLocations = entries
	return staging.NewManifestAdapter(q, manifest), nil
}

func readSliceManifest(ctx context.Context, client s3iface.S3API, bucket, key string) ([]string, error) {
	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			return nil, apperrors.NewUserError(err, "Load error: %s", aerr.Message())
		}
		return nil, apperrors.NewUserError(err, "Load error: %s", err.Error())
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, apperrors.NewUserError(err, "Load error: %s", err.Error())
	}

	location := fmt.Sprintf("s3://%s/%s", bucket, key)
	return staging.ParseSliceManifest(body, location, location)
}
