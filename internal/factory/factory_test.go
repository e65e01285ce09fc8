package factory

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/storage"
)

func TestCreateSource(t *testing.T) {
	f := NewStorageFactory(Options{FetchTimeout: time.Second})

	src, err := f.CreateSource("file")
	require.NoError(t, err)
	assert.IsType(t, &storage.FileSource{}, src)

	src, err = f.CreateSource("")
	require.NoError(t, err)
	assert.IsType(t, &storage.FileSource{}, src)

	httpSrc, err := f.CreateSource("http")
	require.NoError(t, err)
	httpsSrc, err := f.CreateSource("HTTPS")
	require.NoError(t, err)
	assert.Same(t, httpSrc, httpsSrc, "http fetcher is shared")

	_, err = f.CreateSource("ftp")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestCreateSource_FileRoots(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
	outside := filepath.Join(t.TempDir(), "b.png")
	require.NoError(t, os.WriteFile(outside, []byte("png"), 0o644))

	src, err := NewStorageFactory(Options{FileRoots: []string{root}}).CreateSource("file")
	require.NoError(t, err)

	data, err := src.Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = src.Open(context.Background(), outside)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePermission))
}

func TestCreateSource_AzureNeedsCredentials(t *testing.T) {
	f := NewStorageFactory(Options{})

	_, err := f.CreateSource(storage.BlobScheme)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.CreateSink(AzureStorage, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestCreateSource_Azure(t *testing.T) {
	f := NewStorageFactory(Options{
		AzureAccountName:     "photos",
		AzureAccountKey:      base64.StdEncoding.EncodeToString([]byte("secret-key")),
		AzureOutputContainer: "crops",
	})

	src, err := f.CreateSource(storage.BlobScheme)
	require.NoError(t, err)
	sink, err := f.CreateSink(AzureStorage, "")
	require.NoError(t, err)
	assert.Same(t, src, sink, "source and output sink share one client")
}

func TestCreateSink(t *testing.T) {
	f := NewStorageFactory(Options{})
	dir := t.TempDir()

	sink, err := f.CreateSink(LocalStorage, dir)
	require.NoError(t, err)
	assert.IsType(t, &storage.LocalSink{}, sink)
	ref, err := sink.Write(context.Background(), "IMG_1.png", []byte("png"))
	require.NoError(t, err)
	path, err := storage.PathFromRef(ref)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	_, err = f.CreateSink(LocalStorage, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.CreateSink(HTTPStorage, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.CreateSink(StorageType("tape"), "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
