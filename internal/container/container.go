package container

import (
	"context"
	"net/http"

	"go-photo-cropper/internal/config"
	"go-photo-cropper/internal/factory"
	"go-photo-cropper/internal/flow"
	"go-photo-cropper/internal/logger"
	"go-photo-cropper/internal/observer"
	"go-photo-cropper/internal/orientation"
	"go-photo-cropper/internal/repository"
	"go-photo-cropper/internal/service"
	"go-photo-cropper/internal/storage"
	"go-photo-cropper/internal/transport"
	"go-photo-cropper/internal/worker"
	"go-photo-cropper/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config          *config.Config
	storageFactory  factory.StorageFactory
	imageRepository repository.ImageRepository
	normalizer      orientation.Normalizer
	pool            *worker.Pool
	cropService     service.CropService
	publisher       *observer.EventPublisher
	metrics         *observer.MetricsObserver
	registry        *flow.Registry
	handler         http.Handler
	stopJanitor     context.CancelFunc
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	storageFactory := factory.NewStorageFactory(factory.Options{
		FetchTimeout:         cfg.ImageFetchTimeout,
		MaxSourceBytes:       storage.DefaultMaxSourceBytes,
		FileRoots:            cfg.FileRoots(),
		AzureAccountName:     cfg.AzureAccountName,
		AzureAccountKey:      cfg.AzureAccountKey,
		AzureOutputContainer: cfg.AzureOutputContainer,
	})

	schemes := []string{validation.SchemeFile, validation.SchemeHTTP, validation.SchemeHTTPS}
	if cfg.AzureEnabled() {
		schemes = append(schemes, validation.SchemeAzure)
	}
	validator := validation.NewRefValidatorWithOptions(schemes, nil)

	workSink, err := storageFactory.CreateSink(factory.LocalStorage, cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	var outputSink storage.ImageSink
	if cfg.OutputBackend == config.BackendAzure {
		outputSink, err = storageFactory.CreateSink(factory.AzureStorage, cfg.AzureOutputContainer)
	} else {
		outputSink, err = storageFactory.CreateSink(factory.LocalStorage, cfg.OutputDir)
	}
	if err != nil {
		return nil, err
	}

	// Build dependency graph
	imageRepository := repository.NewImageRepository(storageFactory, validator, workSink, outputSink)
	normalizer := orientation.NewNormalizer(orientation.Options{
		MaxDimension:    cfg.MaxImageDimension,
		MaxSourcePixels: cfg.MaxSourcePixels,
	})

	pool := worker.NewPool(cfg.Workers)
	pool.Start()

	cropService := service.NewCropService(imageRepository, normalizer, pool, service.Options{
		AspectRatio:       cfg.CropAspectRatio,
		OutputPrefix:      cfg.OutputPrefix,
		AllowedSources:    cfg.AllowedSources,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	registry := flow.NewRegistry(cropService, publisher, cfg.FlowIdleTimeout)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go registry.Run(janitorCtx, 0)

	handler := transport.NewHandler(registry, metrics, pool, cfg)

	return &Container{
		config:          cfg,
		storageFactory:  storageFactory,
		imageRepository: imageRepository,
		normalizer:      normalizer,
		pool:            pool,
		cropService:     cropService,
		publisher:       publisher,
		metrics:         metrics,
		registry:        registry,
		handler:         handler,
		stopJanitor:     stopJanitor,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Registry returns the flow registry
func (c *Container) Registry() *flow.Registry {
	return c.registry
}

// Close stops the flow janitor, discards live flows and their work files,
// then drains observer notifications and the worker pool
func (c *Container) Close() {
	c.stopJanitor()
	c.registry.Close()
	<-c.registry.Done()
	if n := c.registry.DiscardAll(); n > 0 {
		logger.WithField("flows", n).Info("Discarded live flows")
	}
	c.publisher.Close()
	c.pool.Wait()
	c.pool.Close()
}
