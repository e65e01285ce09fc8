package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/observer"
	"go-photo-cropper/internal/repository"
	"go-photo-cropper/internal/service"
	"go-photo-cropper/pkg/models"
)

// State is a screen of the crop flow
type State string

const (
	StateHome     State = "home"
	StateCrop     State = "crop"
	StateComplete State = "complete"
)

// Action is a user action that may move a flow between states
type Action string

const (
	ActionAcquire     Action = "acquire"
	ActionRotateLeft  Action = "rotate_left"
	ActionRotateRight Action = "rotate_right"
	ActionBack        Action = "back"
	ActionCommit      Action = "commit"
	ActionPreview     Action = "preview"
	ActionInspect     Action = "inspect"
	ActionSave        Action = "save"
	ActionHome        Action = "home"
)

// allowedFrom lists the states each action may be taken from
var allowedFrom = map[Action][]State{
	ActionAcquire:     {StateHome},
	ActionRotateLeft:  {StateCrop},
	ActionRotateRight: {StateCrop},
	ActionBack:        {StateCrop},
	ActionCommit:      {StateCrop},
	ActionPreview:     {StateCrop, StateComplete},
	ActionInspect:     {StateCrop, StateComplete},
	ActionSave:        {StateComplete},
	ActionHome:        {StateComplete},
}

// Allowed reports whether action may be taken from state
func Allowed(state State, action Action) bool {
	for _, s := range allowedFrom[action] {
		if s == state {
			return true
		}
	}
	return false
}

// Snapshot is a consistent view of a flow
type Snapshot struct {
	ID          string
	State       State
	Handle      *models.ImageHandle
	AspectRatio models.AspectRatio
	SavedRef    string
	Busy        bool
	UpdatedAt   time.Time
}

// Flow drives one user through Home, Crop and Complete. It admits one
// operation at a time and holds at most one live image handle.
type Flow struct {
	id        string
	svc       service.CropService
	publisher observer.Subject

	mu        sync.Mutex
	state     State
	handle    *models.ImageHandle
	savedRef  string
	busy      bool
	closed    bool
	updatedAt time.Time
}

// New creates a flow in the home state
func New(id string, svc service.CropService, publisher observer.Subject) *Flow {
	return &Flow{
		id:        id,
		svc:       svc,
		publisher: publisher,
		state:     StateHome,
		updatedAt: time.Now(),
	}
}

// ID returns the flow id
func (f *Flow) ID() string {
	return f.id
}

// Snapshot returns the current state of the flow
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Snapshot{
		ID:          f.id,
		State:       f.state,
		Handle:      f.handle,
		AspectRatio: f.svc.AspectRatio(),
		SavedRef:    f.savedRef,
		Busy:        f.busy,
		UpdatedAt:   f.updatedAt,
	}
}

// IdleSince reports when the flow last changed, and whether an operation is running
func (f *Flow) IdleSince() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedAt, f.busy
}

// Acquire loads the image behind ref: Home -> Crop
func (f *Flow) Acquire(ctx context.Context, source models.Source, ref string) (Snapshot, error) {
	return f.acquire(ctx, ref, func(ctx context.Context) (*models.ImageHandle, error) {
		return f.svc.Acquire(ctx, source, ref)
	})
}

// AcquireCapture loads freshly captured camera bytes: Home -> Crop
func (f *Flow) AcquireCapture(ctx context.Context, data []byte) (Snapshot, error) {
	return f.acquire(ctx, "", func(ctx context.Context) (*models.ImageHandle, error) {
		return f.svc.AcquireCapture(ctx, data)
	})
}

func (f *Flow) acquire(ctx context.Context, ref string, load func(context.Context) (*models.ImageHandle, error)) (Snapshot, error) {
	if _, err := f.begin(ActionAcquire); err != nil {
		return Snapshot{}, err
	}

	start := time.Now()
	handle, err := load(ctx)
	if err != nil {
		return f.fail(ctx, observer.AcquireFailed, ref, start, err)
	}

	snap, err := f.finish(ctx, StateCrop, handle, "")
	if err != nil {
		return snap, err
	}
	f.publish(ctx, observer.FlowEvent{
		EventType:      observer.ImageAcquired,
		State:          string(StateCrop),
		ImageRef:       handle.Ref,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			"source":      handle.Source,
			"orientation": handle.Orientation.String(),
			"width":       handle.Width,
			"height":      handle.Height,
		},
	})
	return snap, nil
}

// RotateLeft composes a quarter turn counter-clockwise: Crop -> Crop
func (f *Flow) RotateLeft(ctx context.Context) (Snapshot, error) {
	return f.rotate(ctx, ActionRotateLeft, models.Rotation.RotateLeft)
}

// RotateRight composes a quarter turn clockwise: Crop -> Crop
func (f *Flow) RotateRight(ctx context.Context) (Snapshot, error) {
	return f.rotate(ctx, ActionRotateRight, models.Rotation.RotateRight)
}

func (f *Flow) rotate(ctx context.Context, action Action, step func(models.Rotation) models.Rotation) (Snapshot, error) {
	handle, err := f.begin(action)
	if err != nil {
		return Snapshot{}, err
	}

	next := handle.WithRotation(step(handle.Rotation))
	snap, err := f.finish(ctx, StateCrop, next, "")
	if err != nil {
		return snap, err
	}
	f.publish(ctx, observer.FlowEvent{
		EventType: observer.ImageRotated,
		State:     string(StateCrop),
		ImageRef:  next.Ref,
		Success:   true,
		Metadata:  map[string]interface{}{"rotation": next.Rotation.Degrees()},
	})
	return snap, nil
}

// Back discards the image being cropped: Crop -> Home
func (f *Flow) Back(ctx context.Context) (Snapshot, error) {
	return f.reset(ctx, ActionBack)
}

// Home discards the committed image: Complete -> Home
func (f *Flow) Home(ctx context.Context) (Snapshot, error) {
	return f.reset(ctx, ActionHome)
}

func (f *Flow) reset(ctx context.Context, action Action) (Snapshot, error) {
	if _, err := f.begin(action); err != nil {
		return Snapshot{}, err
	}

	snap, err := f.finish(ctx, StateHome, nil, "")
	if err != nil {
		return snap, err
	}
	f.publish(ctx, observer.FlowEvent{
		EventType: observer.FlowReset,
		State:     string(StateHome),
		Success:   true,
		Metadata:  map[string]interface{}{"action": string(action)},
	})
	return snap, nil
}

// Commit applies the rotation once and crops: Crop -> Complete
func (f *Flow) Commit(ctx context.Context, req models.CropRequest) (Snapshot, error) {
	handle, err := f.begin(ActionCommit)
	if err != nil {
		return Snapshot{}, err
	}

	start := time.Now()
	committed, err := f.svc.Commit(ctx, handle, req)
	if err != nil {
		return f.fail(ctx, observer.CropFailed, handle.Ref, start, err)
	}

	snap, err := f.finish(ctx, StateComplete, committed, "")
	if err != nil {
		return snap, err
	}
	f.publish(ctx, observer.FlowEvent{
		EventType:      observer.ImageCropped,
		State:          string(StateComplete),
		ImageRef:       committed.Ref,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			"rotation": handle.Rotation.Degrees(),
			"width":    committed.Width,
			"height":   committed.Height,
		},
	})
	return snap, nil
}

// Save persists the committed crop and returns its reference: Complete -> Complete.
// It may be repeated; each call writes a new file.
func (f *Flow) Save(ctx context.Context) (string, Snapshot, error) {
	handle, err := f.begin(ActionSave)
	if err != nil {
		return "", Snapshot{}, err
	}

	start := time.Now()
	ref, err := f.svc.Save(ctx, handle)
	if err != nil {
		snap, err := f.fail(ctx, observer.SaveFailed, handle.Ref, start, err)
		return "", snap, err
	}

	snap, err := f.finish(ctx, StateComplete, handle, ref)
	if err != nil {
		return "", snap, err
	}
	f.publish(ctx, observer.FlowEvent{
		EventType:      observer.ImageSaved,
		State:          string(StateComplete),
		ImageRef:       ref,
		ProcessingTime: time.Since(start),
		Success:        true,
	})
	return ref, snap, nil
}

// Preview renders the current handle with its pending rotation
func (f *Flow) Preview(ctx context.Context) ([]byte, error) {
	handle, err := f.begin(ActionPreview)
	if err != nil {
		return nil, err
	}
	defer f.release()

	return f.svc.Preview(ctx, handle)
}

// Metadata reads format and dimensions of the stored image behind the live handle
func (f *Flow) Metadata(ctx context.Context) (*repository.ImageMetadata, error) {
	handle, err := f.begin(ActionInspect)
	if err != nil {
		return nil, err
	}
	defer f.release()

	return f.svc.Metadata(ctx, handle)
}

// Close discards the live handle. Operations still running are discarded
// when they finish, and later calls fail.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	handle := f.handle
	f.handle = nil
	f.mu.Unlock()

	f.discard(handle)
}

// begin claims the flow for action and returns the live handle
func (f *Flow) begin(action Action) (*models.ImageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, f.closedError()
	}
	if f.busy {
		return nil, apperrors.NewConflictError("another operation is in progress", nil)
	}
	if !Allowed(f.state, action) {
		return nil, apperrors.NewConflictError(fmt.Sprintf("cannot %s in state %s", action, f.state), nil)
	}
	f.busy = true
	return f.handle, nil
}

func (f *Flow) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
}

// finish installs the outcome unless the caller abandoned the operation
// or the flow was closed meanwhile. A handle that is replaced or never
// installed is discarded.
func (f *Flow) finish(ctx context.Context, state State, handle *models.ImageHandle, savedRef string) (Snapshot, error) {
	f.mu.Lock()
	f.busy = false
	if f.closed {
		f.mu.Unlock()
		f.discard(handle)
		return Snapshot{}, f.closedError()
	}
	if err := ctx.Err(); err != nil {
		live := f.handle
		f.mu.Unlock()
		if !sameFile(live, handle) {
			f.discard(handle)
		}
		return Snapshot{}, err
	}

	old := f.handle
	f.state = state
	f.handle = handle
	f.savedRef = savedRef
	f.updatedAt = time.Now()
	f.mu.Unlock()

	if !sameFile(old, handle) {
		f.discard(old)
	}
	return f.Snapshot(), nil
}

func (f *Flow) discard(handle *models.ImageHandle) {
	if handle == nil {
		return
	}
	f.svc.Discard(context.Background(), handle)
}

func (f *Flow) closedError() error {
	return apperrors.NewNotFoundError("flow "+f.id+" was closed", nil)
}

func sameFile(a, b *models.ImageHandle) bool {
	return a != nil && b != nil && a.Ref == b.Ref
}

// fail releases the flow without changing state and reports the failure
func (f *Flow) fail(ctx context.Context, eventType observer.EventType, ref string, start time.Time, err error) (Snapshot, error) {
	f.release()

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Snapshot{}, err
	}
	f.publish(ctx, observer.FlowEvent{
		EventType:      eventType,
		State:          string(f.Snapshot().State),
		ImageRef:       ref,
		ProcessingTime: time.Since(start),
		Success:        false,
		ErrorMessage:   err.Error(),
	})
	return f.Snapshot(), err
}

func (f *Flow) publish(ctx context.Context, event observer.FlowEvent) {
	if f.publisher == nil {
		return
	}
	event.FlowID = f.id
	event.Timestamp = time.Now()
	f.publisher.NotifyObservers(ctx, event)
}
