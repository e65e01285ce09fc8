package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FlowEvent represents a transition, or a failed attempt at one, in a crop flow
type FlowEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	FlowID         string                 `json:"flow_id"`
	State          string                 `json:"state"`
	ImageRef       string                 `json:"image_ref,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of flow event
type EventType string

const (
	// ImageAcquired when a camera or gallery image is loaded into a flow
	ImageAcquired EventType = "image_acquired"
	// AcquireFailed when loading or decoding the image fails
	AcquireFailed EventType = "acquire_failed"
	// ImageRotated when the pending rotation changes
	ImageRotated EventType = "image_rotated"
	// ImageCropped when the crop is committed
	ImageCropped EventType = "image_cropped"
	// CropFailed when committing the crop fails
	CropFailed EventType = "crop_failed"
	// ImageSaved when the crop is persisted to the output location
	ImageSaved EventType = "image_saved"
	// SaveFailed when persisting fails
	SaveFailed EventType = "save_failed"
	// FlowReset when a flow returns to the home state
	FlowReset EventType = "flow_reset"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event FlowEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event FlowEvent)
}

// LoggingObserver logs flow events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles flow events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event FlowEvent) {
	fields := logrus.Fields{
		"event_type":         event.EventType,
		"flow_id":            event.FlowID,
		"state":              event.State,
		"processing_time_ms": event.ProcessingTime.Milliseconds(),
		"success":            event.Success,
	}
	if event.ImageRef != "" {
		fields["ref"] = event.ImageRef
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case ImageAcquired:
		entry.Info("Image acquired")
	case ImageCropped:
		entry.Info("Crop committed")
	case ImageSaved:
		entry.Info("Saved successfully")
	case AcquireFailed:
		entry.Error("Image acquisition failed")
	case CropFailed:
		entry.Error("Crop failed")
	case SaveFailed:
		entry.Error("Save failed")
	case ImageRotated, FlowReset:
		entry.Debug("Flow updated")
	default:
		entry.Info("Flow event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects metrics from flow events
type MetricsObserver struct {
	mu          sync.RWMutex
	counts      map[EventType]int64
	successes   int64
	failures    int64
	totalTimeMs map[EventType]int64
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		counts:      make(map[EventType]int64),
		totalTimeMs: make(map[EventType]int64),
	}
}

// OnEvent handles flow events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event FlowEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.counts[event.EventType]++
	o.totalTimeMs[event.EventType] += event.ProcessingTime.Milliseconds()
	if event.Success {
		o.successes++
	} else {
		o.failures++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// Count returns how many events of type t were observed
func (o *MetricsObserver) Count(t EventType) int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.counts[t]
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avg := func(t EventType) int64 {
		if o.counts[t] == 0 {
			return 0
		}
		return o.totalTimeMs[t] / o.counts[t]
	}

	return map[string]interface{}{
		"images_acquired":     o.counts[ImageAcquired],
		"acquire_failures":    o.counts[AcquireFailed],
		"rotations":           o.counts[ImageRotated],
		"crops_committed":     o.counts[ImageCropped],
		"crop_failures":       o.counts[CropFailed],
		"images_saved":        o.counts[ImageSaved],
		"save_failures":       o.counts[SaveFailed],
		"flow_resets":         o.counts[FlowReset],
		"successful_events":   o.successes,
		"failed_events":       o.failures,
		"avg_acquire_time_ms": avg(ImageAcquired),
		"avg_crop_time_ms":    avg(ImageCropped),
		"avg_save_time_ms":    avg(ImageSaved),
	}
}

// EventPublisher implements the Subject interface. Each observer has its own
// delivery goroutine, so observers run concurrently with each other while
// every observer sees events in publish order.
type EventPublisher struct {
	mu            sync.RWMutex
	subscriptions []*subscription
	pending       sync.WaitGroup
}

type delivery struct {
	ctx   context.Context
	event FlowEvent
}

// subscription queues events for one observer
type subscription struct {
	observer Observer

	mu    sync.Mutex
	queue []delivery
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		subscriptions: make([]*subscription, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	sub := &subscription{
		observer: observer,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go sub.run(p)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = append(p.subscriptions, sub)
}

// Unsubscribe removes an observer. Events already queued for it are still delivered.
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	var removed *subscription
	for i, sub := range p.subscriptions {
		if sub.observer.GetObserverName() == observer.GetObserverName() {
			removed = sub
			p.subscriptions = append(p.subscriptions[:i], p.subscriptions[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if removed != nil {
		close(removed.stop)
		<-removed.done
	}
}

// NotifyObservers queues an event for every observer. Delivery outlives the
// caller's context so an abandoned request still gets recorded.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event FlowEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	// Enqueue under the read lock so a subscription is never stopped with
	// an event in flight
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subscriptions {
		p.pending.Add(1)
		sub.enqueue(d)
	}
}

// Wait blocks until every notification sent so far has been handled
func (p *EventPublisher) Wait() {
	p.pending.Wait()
}

// Close delivers what is queued and stops every delivery goroutine
func (p *EventPublisher) Close() {
	p.mu.Lock()
	subs := p.subscriptions
	p.subscriptions = nil
	p.mu.Unlock()

	for _, sub := range subs {
		close(sub.stop)
	}
	for _, sub := range subs {
		<-sub.done
	}
}

func (s *subscription) enqueue(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) take() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *subscription) run(p *EventPublisher) {
	defer close(s.done)

	for {
		batch := s.take()
		for _, d := range batch {
			s.deliver(d)
			p.pending.Done()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-s.stop:
			for _, d := range s.take() {
				s.deliver(d)
				p.pending.Done()
			}
			return
		}
	}
}

func (s *subscription) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the application
			logrus.WithField("observer", s.observer.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	s.observer.OnEvent(d.ctx, d.event)
}
