package factory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/storage"
)

// StorageType represents different types of storage backends
type StorageType string

const (
	// HTTPStorage for HTTP-based image fetching
	HTTPStorage StorageType = "http"
	// AzureStorage for Azure blob storage
	AzureStorage StorageType = "azure"
	// LocalStorage for local file system
	LocalStorage StorageType = "local"
)

// Options configure the storages handed out by the factory
type Options struct {
	FetchTimeout   time.Duration
	MaxSourceBytes int64
	// FileRoots confines file references; none means file references are refused
	FileRoots []string

	AzureAccountName     string
	AzureAccountKey      string
	AzureOutputContainer string
}

// StorageFactory creates storage implementations
type StorageFactory interface {
	// CreateSource returns the image source for a reference scheme (file, http, https, azblob)
	CreateSource(scheme string) (storage.ImageSource, error)
	// CreateSink returns a sink of the given type. location is a directory for local sinks
	// and a container name for azure; an empty azure location means the configured output container.
	CreateSink(storageType StorageType, location string) (storage.ImageSink, error)
}

// storageFactory implements StorageFactory
type storageFactory struct {
	opts Options

	mu    sync.Mutex
	http  *storage.HTTPImageFetcher
	azure *storage.AzureStorage
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(opts Options) StorageFactory {
	return &storageFactory{opts: opts}
}

// CreateSource creates a source based on the reference scheme
func (f *storageFactory) CreateSource(scheme string) (storage.ImageSource, error) {
	switch strings.ToLower(scheme) {
	case "", "file":
		return storage.NewFileSource(f.opts.MaxSourceBytes, f.opts.FileRoots...), nil
	case "http", "https":
		return f.httpFetcher(), nil
	case storage.BlobScheme:
		return f.azureStorage(f.opts.AzureOutputContainer)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported reference scheme: %s", scheme), nil)
	}
}

// CreateSink creates a sink based on the specified type
func (f *storageFactory) CreateSink(storageType StorageType, location string) (storage.ImageSink, error) {
	switch storageType {
	case LocalStorage:
		if location == "" {
			return nil, apperrors.NewValidationError("local sink needs a directory", nil)
		}
		return storage.NewLocalSink(location), nil
	case AzureStorage:
		if location == "" {
			location = f.opts.AzureOutputContainer
		}
		if location == "" {
			return nil, apperrors.NewValidationError("azure sink needs a container", nil)
		}
		return f.azureStorage(location)
	case HTTPStorage:
		return nil, apperrors.NewValidationError("http storage is read-only", nil)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported storage type: %s", storageType), nil)
	}
}

func (f *storageFactory) httpFetcher() *storage.HTTPImageFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.http == nil {
		f.http = storage.NewHTTPImageFetcher(f.opts.FetchTimeout, f.opts.MaxSourceBytes)
	}
	return f.http
}

func (f *storageFactory) azureStorage(container string) (*storage.AzureStorage, error) {
	if f.opts.AzureAccountName == "" || f.opts.AzureAccountKey == "" {
		return nil, apperrors.NewValidationError("azure storage is not configured", nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// One client per factory; sinks for other containers get their own
	if f.azure != nil && container == f.opts.AzureOutputContainer {
		return f.azure, nil
	}

	s, err := storage.NewAzureStorage(f.opts.AzureAccountName, f.opts.AzureAccountKey, container, f.opts.MaxSourceBytes)
	if err != nil {
		return nil, err
	}
	if container == f.opts.AzureOutputContainer {
		f.azure = s
	}
	return s, nil
}
