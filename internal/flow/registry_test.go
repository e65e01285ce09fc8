package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/pkg/models"
)

func TestRegistry_CreateGetDelete(t *testing.T) {
	svc := &fakeService{}
	r := NewRegistry(svc, nil, time.Minute)

	f := r.Create()
	assert.NotEmpty(t, f.ID())
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(f.ID())
	require.NoError(t, err)
	assert.Same(t, f, got)

	other := r.Create()
	assert.NotEqual(t, f.ID(), other.ID())

	_, err = f.Acquire(context.Background(), models.SourceGallery, "a.jpg")
	require.NoError(t, err)

	require.NoError(t, r.Delete(f.ID()))
	assert.Equal(t, []string{"a.jpg"}, svc.discarded())
	_, err = r.Get(f.ID())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.True(t, apperrors.IsType(r.Delete(f.ID()), apperrors.ErrorTypeNotFound))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EvictIdle(t *testing.T) {
	svc := &fakeService{}
	r := NewRegistry(svc, nil, time.Minute)
	stale := r.Create()
	fresh := r.Create()
	_, err := fresh.Acquire(context.Background(), models.SourceGallery, "a.jpg")
	require.NoError(t, err)

	updated, _ := stale.IdleSince()
	assert.Equal(t, 0, r.EvictIdle(updated.Add(30*time.Second)))
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.EvictIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []string{"a.jpg"}, svc.discarded())
}

func TestRegistry_DiscardAll(t *testing.T) {
	svc := &fakeService{}
	r := NewRegistry(svc, nil, time.Minute)
	for _, ref := range []string{"a.jpg", "b.jpg"} {
		_, err := r.Create().Acquire(context.Background(), models.SourceGallery, ref)
		require.NoError(t, err)
	}
	r.Create()

	assert.Equal(t, 3, r.DiscardAll())
	assert.Equal(t, 0, r.Len())
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, svc.discarded())
}

func TestRegistry_EvictIdleKeepsBusyFlows(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), started: make(chan struct{})}
	r := NewRegistry(svc, nil, time.Minute)
	f := r.Create()

	done := make(chan error, 1)
	go func() {
		_, err := f.Acquire(context.Background(), models.SourceGallery, "slow.jpg")
		done <- err
	}()
	<-svc.started

	assert.Equal(t, 0, r.EvictIdle(time.Now().Add(time.Hour)))
	close(svc.gate)
	require.NoError(t, <-done)
}

func TestRegistry_NoTimeoutNeverEvicts(t *testing.T) {
	r := NewRegistry(&fakeService{}, nil, 0)
	r.Create()
	assert.Equal(t, 0, r.EvictIdle(time.Now().Add(24*time.Hour)))
}

func TestRegistry_RunStopsOnClose(t *testing.T) {
	r := NewRegistry(&fakeService{}, nil, 20*time.Millisecond)
	r.Create()

	go r.Run(context.Background(), 5*time.Millisecond)

	assert.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	r.Close()
	r.Close()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
