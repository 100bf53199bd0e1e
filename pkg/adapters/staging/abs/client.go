package abs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// BlobReader is the subset of Blob Storage the adapter needs.
type BlobReader interface {
	// Download returns the full content of a blob.
	Download(ctx context.Context, container, name string) ([]byte, error)

	// Stat returns nil if the blob exists.
	Stat(ctx context.Context, container, name string) error
}

type blobClient struct {
	client *azblob.Client
}

var _ BlobReader = (*blobClient)(nil)

// NewClient returns a BlobReader authenticated by a SAS token.
func NewClient(endpoint, sas string) (BlobReader, error) {
	serviceURL := fmt.Sprintf("https://%s/?%s", endpoint, sas)
	client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &blobClient{client: client}, nil
}

func (c *blobClient) Download(ctx context.Context, container, name string) ([]byte, error) {
	resp, err := c.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *blobClient) Stat(ctx context.Context, container, name string) error {
	_, err := c.client.ServiceClient().
		NewContainerClient(container).
		NewBlobClient(name).
		GetProperties(ctx, nil)
	return err
}

// errorText returns a readable message for a storage error.
func errorText(err error) string {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return "The specified blob does not exist."
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		return "The specified container does not exist."
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure):
		return "Server failed to authenticate the request."
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.ErrorCode != "" {
			return respErr.ErrorCode
		}
		return fmt.Sprintf("HTTP %d", respErr.StatusCode)
	}
	return err.Error()
}
