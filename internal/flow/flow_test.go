package flow

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/observer"
	"go-photo-cropper/internal/repository"
	"go-photo-cropper/pkg/models"
)

// fakeService records calls and lets tests block or fail operations
type fakeService struct {
	mu       sync.Mutex
	acquired int
	gate     chan struct{} // when set, Acquire waits on it
	started  chan struct{}
	err      error
	commits  []*models.ImageHandle
	saves    int
	discards []string
}

func (s *fakeService) handle(ref string, source models.Source) *models.ImageHandle {
	return &models.ImageHandle{
		ID:     ref,
		Ref:    ref,
		Source: source,
		Width:  40,
		Height: 20,
		Image:  image.NewNRGBA(image.Rect(0, 0, 40, 20)),
	}
}

func (s *fakeService) Acquire(ctx context.Context, source models.Source, ref string) (*models.ImageHandle, error) {
	s.mu.Lock()
	s.acquired++
	gate, started, err := s.gate, s.started, s.err
	s.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			<-gate
		}
	}
	if err != nil {
		return nil, err
	}
	return s.handle(ref, source), nil
}

func (s *fakeService) AcquireCapture(ctx context.Context, data []byte) (*models.ImageHandle, error) {
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("captured image is empty", nil)
	}
	return s.handle("capture", models.SourceCamera), nil
}

func (s *fakeService) Preview(ctx context.Context, h *models.ImageHandle) ([]byte, error) {
	return []byte("png"), nil
}

func (s *fakeService) Commit(ctx context.Context, h *models.ImageHandle, req models.CropRequest) (*models.ImageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.commits = append(s.commits, h)
	w, ht := h.Bounds()
	return &models.ImageHandle{ID: "crop", Ref: "file:///work/CROP.png", Source: models.SourceFile, Width: w, Height: ht, Image: h.Image}, nil
}

func (s *fakeService) Save(ctx context.Context, h *models.ImageHandle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.saves++
	return "file:///out/IMG.png", nil
}

func (s *fakeService) Metadata(ctx context.Context, h *models.ImageHandle) (*repository.ImageMetadata, error) {
	return &repository.ImageMetadata{Ref: h.Ref, Format: "png", Width: h.Width, Height: h.Height}, nil
}

func (s *fakeService) Discard(ctx context.Context, h *models.ImageHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discards = append(s.discards, h.Ref)
}

func (s *fakeService) discarded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.discards...)
}

func (s *fakeService) AspectRatio() models.AspectRatio { return models.DefaultAspectRatio }

type eventLog struct {
	mu     sync.Mutex
	events []observer.FlowEvent
}

func (l *eventLog) OnEvent(ctx context.Context, e observer.FlowEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) GetObserverName() string { return "event_log" }

func (l *eventLog) types() []observer.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []observer.EventType
	for _, e := range l.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestFlow() (*Flow, *fakeService, *observer.EventPublisher, *eventLog) {
	svc := &fakeService{}
	pub := observer.NewEventPublisher()
	log := &eventLog{}
	pub.Subscribe(log)
	return New("flow-1", svc, pub), svc, pub, log
}

func TestFlow_HappyPath(t *testing.T) {
	f, svc, pub, log := newTestFlow()
	ctx := context.Background()

	assert.Equal(t, StateHome, f.Snapshot().State)

	snap, err := f.Acquire(ctx, models.SourceGallery, "/gallery/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, StateCrop, snap.State)
	assert.Equal(t, "/gallery/a.jpg", snap.Handle.Ref)
	assert.True(t, snap.Handle.Rotation.IsZero())

	snap, err = f.RotateRight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, snap.Handle.Rotation.Degrees())
	w, h := snap.Handle.Bounds()
	assert.Equal(t, []int{20, 40}, []int{w, h})

	snap, err = f.Commit(ctx, models.CropRequest{})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, "file:///work/CROP.png", snap.Handle.Ref)
	require.Len(t, svc.commits, 1)
	assert.Equal(t, 90, svc.commits[0].Rotation.Degrees())

	ref, snap, err := f.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "file:///out/IMG.png", ref)
	assert.Equal(t, ref, snap.SavedRef)
	assert.Equal(t, StateComplete, snap.State)

	// Save may be repeated
	_, _, err = f.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.saves)

	snap, err = f.Home(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateHome, snap.State)
	assert.Nil(t, snap.Handle)
	assert.Empty(t, snap.SavedRef)

	pub.Wait()
	assert.Equal(t, []observer.EventType{
		observer.ImageAcquired,
		observer.ImageRotated,
		observer.ImageCropped,
		observer.ImageSaved,
		observer.ImageSaved,
		observer.FlowReset,
	}, log.types())
}

func TestFlow_RotationComposition(t *testing.T) {
	f, _, _, _ := newTestFlow()
	ctx := context.Background()
	_, err := f.Acquire(ctx, models.SourceGallery, "a.jpg")
	require.NoError(t, err)

	steps := []struct {
		rotate func(context.Context) (Snapshot, error)
		want   int
	}{
		{f.RotateLeft, 270},
		{f.RotateLeft, 180},
		{f.RotateRight, 270},
		{f.RotateRight, 0},
		{f.RotateRight, 90},
	}
	for i, step := range steps {
		snap, err := step.rotate(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.want, snap.Handle.Rotation.Degrees(), "step %d", i)
	}
}

func TestFlow_Back(t *testing.T) {
	f, _, _, _ := newTestFlow()
	ctx := context.Background()

	_, err := f.Acquire(ctx, models.SourceGallery, "a.jpg")
	require.NoError(t, err)
	_, err = f.RotateRight(ctx)
	require.NoError(t, err)

	snap, err := f.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateHome, snap.State)
	assert.Nil(t, snap.Handle)

	// A new acquisition starts from a clean rotation
	snap, err = f.Acquire(ctx, models.SourceGallery, "b.jpg")
	require.NoError(t, err)
	assert.True(t, snap.Handle.Rotation.IsZero())
}

func TestFlow_InvalidTransitions(t *testing.T) {
	f, _, _, _ := newTestFlow()
	ctx := context.Background()

	conflict := func(err error) {
		t.Helper()
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict), "got %v", err)
	}

	// Home
	_, err := f.RotateLeft(ctx)
	conflict(err)
	_, err = f.Commit(ctx, models.CropRequest{})
	conflict(err)
	_, _, err = f.Save(ctx)
	conflict(err)
	_, err = f.Back(ctx)
	conflict(err)
	_, err = f.Home(ctx)
	conflict(err)
	_, err = f.Preview(ctx)
	conflict(err)

	// Crop
	_, err = f.Acquire(ctx, models.SourceGallery, "a.jpg")
	require.NoError(t, err)
	_, err = f.Acquire(ctx, models.SourceGallery, "b.jpg")
	conflict(err)
	_, _, err = f.Save(ctx)
	conflict(err)
	_, err = f.Home(ctx)
	conflict(err)

	// Complete
	_, err = f.Commit(ctx, models.CropRequest{})
	require.NoError(t, err)
	_, err = f.RotateRight(ctx)
	conflict(err)
	_, err = f.Back(ctx)
	conflict(err)
	_, err = f.Commit(ctx, models.CropRequest{})
	conflict(err)

	assert.Equal(t, StateComplete, f.Snapshot().State)
}

func TestFlow_FailureLeavesStateUnchanged(t *testing.T) {
	f, svc, pub, log := newTestFlow()
	ctx := context.Background()

	svc.err = apperrors.NewDecodeError("corrupt", nil)
	_, err := f.Acquire(ctx, models.SourceGallery, "bad.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode))
	assert.Equal(t, StateHome, f.Snapshot().State)
	assert.Nil(t, f.Snapshot().Handle)

	svc.err = nil
	_, err = f.Acquire(ctx, models.SourceGallery, "good.jpg")
	require.NoError(t, err)

	svc.err = apperrors.NewProcessingError("oom", nil)
	_, err = f.Commit(ctx, models.CropRequest{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeProcessing))
	snap := f.Snapshot()
	assert.Equal(t, StateCrop, snap.State)
	assert.Equal(t, "good.jpg", snap.Handle.Ref)
	assert.False(t, snap.Busy)

	pub.Wait()
	assert.Equal(t, []observer.EventType{observer.AcquireFailed, observer.ImageAcquired, observer.CropFailed}, log.types())
}

func TestFlow_BusyRejectsConcurrentOperation(t *testing.T) {
	f, svc, _, _ := newTestFlow()
	svc.gate = make(chan struct{})
	svc.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.Acquire(context.Background(), models.SourceGallery, "slow.jpg")
		done <- err
	}()
	<-svc.started

	assert.True(t, f.Snapshot().Busy)
	_, err := f.Acquire(context.Background(), models.SourceGallery, "other.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict), "got %v", err)

	close(svc.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateCrop, f.Snapshot().State)
	assert.Equal(t, "slow.jpg", f.Snapshot().Handle.Ref)
}

func TestFlow_AbandonedAcquireDiscardsResult(t *testing.T) {
	f, svc, pub, log := newTestFlow()
	svc.gate = make(chan struct{})
	svc.started = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Acquire(ctx, models.SourceGallery, "slow.jpg")
		done <- err
	}()
	<-svc.started
	cancel()
	close(svc.gate)

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	snap := f.Snapshot()
	assert.Equal(t, StateHome, snap.State)
	assert.Nil(t, snap.Handle)
	assert.False(t, snap.Busy)
	assert.Equal(t, []string{"slow.jpg"}, svc.discarded())

	pub.Wait()
	assert.Empty(t, log.types())
}

func TestFlow_DiscardsReplacedHandles(t *testing.T) {
	f, svc, _, _ := newTestFlow()
	ctx := context.Background()

	_, err := f.Acquire(ctx, models.SourceGallery, "a.jpg")
	require.NoError(t, err)
	_, err = f.RotateRight(ctx)
	require.NoError(t, err)
	_, err = f.RotateLeft(ctx)
	require.NoError(t, err)
	assert.Empty(t, svc.discarded())

	_, err = f.Commit(ctx, models.CropRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, svc.discarded())

	_, _, err = f.Save(ctx)
	require.NoError(t, err)
	_, err = f.Home(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "file:///work/CROP.png"}, svc.discarded())

	_, err = f.Acquire(ctx, models.SourceGallery, "b.jpg")
	require.NoError(t, err)
	_, err = f.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "file:///work/CROP.png", "b.jpg"}, svc.discarded())
}

func TestFlow_Close(t *testing.T) {
	f, svc, _, _ := newTestFlow()
	ctx := context.Background()

	_, err := f.Acquire(ctx, models.SourceGallery, "a.jpg")
	require.NoError(t, err)

	f.Close()
	f.Close()
	assert.Equal(t, []string{"a.jpg"}, svc.discarded())
	assert.Nil(t, f.Snapshot().Handle)

	_, err = f.RotateLeft(ctx)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "got %v", err)
}

func TestFlow_CloseDuringOperation(t *testing.T) {
	f, svc, _, _ := newTestFlow()
	svc.gate = make(chan struct{})
	svc.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.Acquire(context.Background(), models.SourceGallery, "slow.jpg")
		done <- err
	}()
	<-svc.started

	f.Close()
	close(svc.gate)

	err := <-done
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "got %v", err)
	assert.Equal(t, []string{"slow.jpg"}, svc.discarded())
	assert.Nil(t, f.Snapshot().Handle)
}

func TestFlow_AcquireCaptureAndPreview(t *testing.T) {
	f, _, _, _ := newTestFlow()
	ctx := context.Background()

	_, err := f.AcquireCapture(ctx, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, StateHome, f.Snapshot().State)

	snap, err := f.AcquireCapture(ctx, []byte{0xFF, 0xD8})
	require.NoError(t, err)
	assert.Equal(t, models.SourceCamera, snap.Handle.Source)

	data, err := f.Preview(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.False(t, f.Snapshot().Busy)

	meta, err := f.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "capture", meta.Ref)
	assert.Equal(t, 40, meta.Width)
	assert.False(t, f.Snapshot().Busy)

	_, err = f.Back(ctx)
	require.NoError(t, err)
	_, err = f.Metadata(ctx)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict), "got %v", err)
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(StateHome, ActionAcquire))
	assert.True(t, Allowed(StateCrop, ActionPreview))
	assert.True(t, Allowed(StateComplete, ActionPreview))
	assert.True(t, Allowed(StateComplete, ActionInspect))
	assert.False(t, Allowed(StateHome, ActionInspect))
	assert.False(t, Allowed(StateComplete, ActionAcquire))
	assert.False(t, Allowed(StateCrop, Action("teleport")))
}

func TestSnapshotUpdatedAt(t *testing.T) {
	f, _, _, _ := newTestFlow()
	before := f.Snapshot().UpdatedAt
	time.Sleep(time.Millisecond)

	_, err := f.Acquire(context.Background(), models.SourceGallery, "a.jpg")
	require.NoError(t, err)
	assert.True(t, f.Snapshot().UpdatedAt.After(before))
}
