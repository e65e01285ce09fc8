package flow

import (
	"context"
	"sync"
	"time"

	apperrors "go-photo-cropper/internal/errors"
	"go-photo-cropper/internal/logger"
	"go-photo-cropper/internal/observer"
	"go-photo-cropper/internal/service"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry owns the live flows
type Registry struct {
	svc         service.CropService
	publisher   observer.Subject
	idleTimeout time.Duration

	mu    sync.RWMutex
	flows map[string]*Flow

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry creates a registry. Flows idle longer than idleTimeout are
// evicted once the janitor runs; zero disables eviction.
func NewRegistry(svc service.CropService, publisher observer.Subject, idleTimeout time.Duration) *Registry {
	return &Registry{
		svc:         svc,
		publisher:   publisher,
		idleTimeout: idleTimeout,
		flows:       make(map[string]*Flow),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Create starts a new flow in the home state
func (r *Registry) Create() *Flow {
	f := New(uuid.NewString(), r.svc, r.publisher)

	r.mu.Lock()
	r.flows[f.ID()] = f
	r.mu.Unlock()

	logger.WithField("flow_id", f.ID()).Debug("Flow created")
	return f
}

// Get looks up a flow
func (r *Registry) Get(id string) (*Flow, error) {
	r.mu.RLock()
	f, ok := r.flows[id]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.NewNotFoundError("flow "+id+" not found", nil)
	}
	return f, nil
}

// Delete discards a flow and its handle
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	f, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError("flow "+id+" not found", nil)
	}
	f.Close()
	return nil
}

// DiscardAll closes every live flow
func (r *Registry) DiscardAll() int {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*Flow)
	r.mu.Unlock()

	for _, f := range flows {
		f.Close()
	}
	return len(flows)
}

// Len returns the number of live flows
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// EvictIdle removes flows untouched since before now-idleTimeout.
// Flows with an operation in progress are kept.
func (r *Registry) EvictIdle(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTimeout)

	r.mu.Lock()
	var evicted []*Flow
	for id, f := range r.flows {
		updated, busy := f.IdleSince()
		if busy || updated.After(cutoff) {
			continue
		}
		delete(r.flows, id)
		evicted = append(evicted, f)
	}
	remaining := len(r.flows)
	r.mu.Unlock()

	for _, f := range evicted {
		f.Close()
	}

	if len(evicted) > 0 {
		logger.WithFields(logrus.Fields{
			"evicted":   len(evicted),
			"remaining": remaining,
		}).Info("Evicted idle flows")
	}
	return len(evicted)
}

// Run evicts idle flows every interval until ctx ends or Close is called
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	if r.idleTimeout <= 0 {
		select {
		case <-ctx.Done():
		case <-r.stop:
		}
		return
	}
	if interval <= 0 {
		interval = r.idleTimeout / 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.EvictIdle(now)
		}
	}
}

// Close stops the janitor started by Run
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

// Done is closed when Run has returned
func (r *Registry) Done() <-chan struct{} {
	return r.done
}
