package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	apperrors "go-photo-cropper/internal/errors"
)

// BlobScheme prefixes references to blobs: azblob://<container>/<blob>
const BlobScheme = "azblob"

// AzureStorage reads gallery images from and writes crops to Azure Blob Storage
type AzureStorage struct {
	client          *azblob.Client
	outputContainer string
	maxBytes        int64
}

// NewAzureStorage creates a blob store authenticated with a shared key
func NewAzureStorage(accountName, accountKey, outputContainer string, maxBytes int64) (*AzureStorage, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid azure credentials", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create azure blob client", err)
	}

	return &AzureStorage{client: client, outputContainer: outputContainer, maxBytes: maxBytes}, nil
}

// ParseBlobRef splits azblob://container/path/to/blob into container and blob name
func ParseBlobRef(ref string) (container, blobName string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", apperrors.NewValidationError("invalid blob reference", err)
	}
	if !strings.EqualFold(u.Scheme, BlobScheme) {
		return "", "", apperrors.NewValidationError(fmt.Sprintf("blob reference must use %s://", BlobScheme), nil)
	}

	container = u.Host
	blobName = strings.TrimPrefix(u.Path, "/")
	if container == "" || blobName == "" {
		return "", "", apperrors.NewValidationError("blob reference needs a container and a blob name", nil)
	}
	return container, blobName, nil
}

// BlobRef builds the reference for a blob
func BlobRef(container, blobName string) string {
	return fmt.Sprintf("%s://%s/%s", BlobScheme, container, blobName)
}

func (s *AzureStorage) Open(ctx context.Context, ref string) ([]byte, error) {
	container, blobName, err := ParseBlobRef(ref)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		return nil, blobError(ref, err)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, s.maxBytes)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewNetworkError("failed to read blob", err)
	}
	return data, nil
}

// Write uploads a PNG to the output container. An existing blob is never overwritten.
func (s *AzureStorage) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid blob name %q", name), nil)
	}

	contentType := contentTypeFor(name)
	ifNoneMatch := azcore.ETagAny
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}

		_, err := s.client.UploadBuffer(ctx, s.outputContainer, candidate, data, &azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &ifNoneMatch},
			},
		})
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			continue
		}
		if err != nil {
			return "", uploadError(candidate, err)
		}
		return BlobRef(s.outputContainer, candidate), nil
	}

	return "", apperrors.NewSaveError(fmt.Sprintf("no free blob name for %s", name), nil)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

func blobError(ref string, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("blob %s not found", ref), err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions):
		return apperrors.NewPermissionError(fmt.Sprintf("access to blob %s denied", ref), err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("blob download timeout", err)
	default:
		return apperrors.NewNetworkError("blob download failed", err)
	}
}

func uploadError(name string, err error) error {
	if bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions) {
		return apperrors.NewPermissionError(fmt.Sprintf("write access to blob %s denied", name), err)
	}
	return apperrors.NewSaveError(fmt.Sprintf("failed to upload blob %s", name), err)
}

var (
	_ ImageSource = (*AzureStorage)(nil)
	_ ImageSink   = (*AzureStorage)(nil)
)
