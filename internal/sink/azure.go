package sink

import (
	"context"
	"fmt"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureOptions configures the Azure publisher. AccountURL must carry a SAS
// token granting write access to the container.
type AzureOptions struct {
	AccountURL string
	Container  string
	Prefix     string
}

// BlobUploader is the part of the azblob client the publisher uses.
type BlobUploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzurePublisher stores each message as a block blob.
type AzurePublisher struct {
	client    BlobUploader
	container string
	prefix    string
}

// NewAzurePublisher creates the blob client from a SAS URL.
func NewAzurePublisher(opts AzureOptions) (*AzurePublisher, error) {
	if opts.AccountURL == "" || opts.Container == "" {
		return nil, fmt.Errorf("azure sink: account URL and container are required")
	}
	client, err := azblob.NewClientWithNoCredential(opts.AccountURL, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return NewAzurePublisherWithClient(client, opts.Container, opts.Prefix), nil
}

// NewAzurePublisherWithClient uses an existing client.
func NewAzurePublisherWithClient(client BlobUploader, container, prefix string) *AzurePublisher {
	return &AzurePublisher{client: client, container: container, prefix: prefix}
}

func (p *AzurePublisher) Name() string   { return KindAzure }
func (p *AzurePublisher) Target() string { return "azure://" + path.Join(p.container, p.prefix) }

func (p *AzurePublisher) Publish(ctx context.Context, m *Message) error {
	contentType := "application/json"
	_, err := p.client.UploadBuffer(ctx, p.container, path.Join(p.prefix, m.Kind, m.objectName()), m.Body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Metadata: map[string]*string{
			"messageid":   &m.ID,
			"messagekind": &m.Kind,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload message to container %s: %w", p.container, err)
	}
	return nil
}
