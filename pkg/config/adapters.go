package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/adapter/api"
	authorityAdapter "github.com/marmos91/dittoshare/pkg/adapter/authority"
	"github.com/marmos91/dittoshare/pkg/adapter/ws"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/authority"
	"github.com/marmos91/dittoshare/pkg/cache"
	"github.com/marmos91/dittoshare/pkg/catalog"
	"github.com/marmos91/dittoshare/pkg/fanout"
	"github.com/marmos91/dittoshare/pkg/files"
	"github.com/marmos91/dittoshare/pkg/gateway"
	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/notify/amqp"
	"github.com/marmos91/dittoshare/pkg/registry"
	"github.com/marmos91/dittoshare/pkg/store/blob"
	"github.com/marmos91/dittoshare/pkg/store/record"
)

// Runtime is everything built from a Config: the adapters to serve, in start
// order, and the resources to release once they have stopped.
type Runtime struct {
	Adapters []adapter.Adapter

	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// Closers calls fn for each resource to release, in acquisition order.
func (r *Runtime) Closers(fn func(name string, c io.Closer)) {
	for _, c := range r.closers {
		fn(c.name, closerFunc(c.fn))
	}
}

// Close releases every resource in reverse acquisition order.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.closers[i].name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) track(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name: name, fn: fn})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// CreateAdapters builds every enabled service from the configuration.
//
// Adapters are returned in dependency order (authority, notifier, file API,
// metrics) so the server stops dependents first. Backends are only opened
// for the services that use them. On error, whatever was opened is closed.
func CreateAdapters(ctx context.Context, cfg *Config, m *MetricsResult) (*Runtime, error) {
	rt := &Runtime{}
	if err := rt.build(ctx, cfg, m); err != nil {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Warn("Failed to release resources: %v", closeErr)
		}
		return nil, err
	}
	if len(rt.Adapters) == 0 {
		return nil, fmt.Errorf("no services enabled in configuration")
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, cfg *Config, m *MetricsResult) error {
	svc := cfg.Services

	if svc.Authority.Enabled {
		a, err := authority.New(svc.Authority.Config)
		if err != nil {
			return fmt.Errorf("failed to create identity authority: %w", err)
		}
		rt.Adapters = append(rt.Adapters, authorityAdapter.New(
			authorityAdapter.Config{HTTPConfig: svc.Authority.HTTPConfig}, a, m.HTTP("authority"),
		))
	}

	var verifier auth.Verifier
	if svc.Files.Enabled || svc.Notifier.Enabled {
		verifier = auth.NewHTTPVerifier(cfg.Auth, nil, m.Auth)
	}

	var dispatcher *fanout.Dispatcher
	if svc.Notifier.Enabled {
		reg := registry.New()
		dispatcher = fanout.New(reg, m.Fanout)
		notifier := ws.New(svc.Notifier, verifier, reg, dispatcher, m.Fanout, m.HTTP("notifier"))

		if cfg.Notify.Type == "amqp" {
			consumer, err := rt.amqpConsumer(cfg, dispatcher)
			if err != nil {
				return err
			}
			notifier.AddSource(consumer)
		}

		rt.Adapters = append(rt.Adapters, notifier)
	}

	if svc.Files.Enabled {
		filesAPI, err := rt.filesAPI(ctx, cfg, m, verifier, dispatcher)
		if err != nil {
			return err
		}
		rt.Adapters = append(rt.Adapters, filesAPI)
	}

	if m.Server != nil {
		rt.Adapters = append(rt.Adapters, m.Server)
	}

	return nil
}

func (rt *Runtime) filesAPI(ctx context.Context, cfg *Config, m *MetricsResult, verifier auth.Verifier, dispatcher *fanout.Dispatcher) (*api.Adapter, error) {
	records, err := CreateRecordStore(ctx, &cfg.Records)
	if err != nil {
		return nil, err
	}
	rt.track("record store", records.Close)

	blobs, err := CreateBlobStore(ctx, &cfg.Blobs)
	if err != nil {
		return nil, err
	}
	rt.track("blob store", blobs.Close)

	cacheStore, err := CreateCache(ctx, &cfg.Cache)
	if err != nil {
		return nil, err
	}
	rt.track("cache", cacheStore.Close)

	publisher, err := rt.publisher(cfg, dispatcher)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(records, cacheStore, catalog.Config{
		TTL:               cfg.Cache.TTL,
		InvalidateTimeout: cfg.Cache.InvalidateTimeout,
	}, m.Cache)

	service := files.New(cat, blobs, publisher, cfg.Services.Files.Config)

	logStack(cfg, records, blobs, cacheStore)

	return api.New(
		api.Config{HTTPConfig: cfg.Services.Files.HTTPConfig},
		service,
		gateway.New(verifier),
		servedBlobs(cfg, blobs),
		m.HTTP("files"),
	), nil
}

// publisher selects how the file service hands events to the notifier.
func (rt *Runtime) publisher(cfg *Config, dispatcher *fanout.Dispatcher) (notify.Publisher, error) {
	switch cfg.Notify.Type {
	case "none":
		return notify.Noop{}, nil

	case "local":
		if dispatcher == nil {
			return nil, fmt.Errorf("notify.type local requires the notifier in this process")
		}
		return dispatcher, nil

	case "http":
		var httpCfg notify.HTTPConfig
		if err := decodeOptions(cfg.Notify.HTTP, &httpCfg); err != nil {
			return nil, fmt.Errorf("failed to decode notify.http config: %w", err)
		}
		if err := validate.Struct(httpCfg); err != nil {
			return nil, fmt.Errorf("notify.http: %w", formatValidationError(err))
		}
		return notify.NewHTTPPublisher(httpCfg, nil), nil

	case "amqp":
		amqpCfg, err := decodeAMQP(cfg)
		if err != nil {
			return nil, err
		}
		ch, closeFn, err := amqp.Dial(amqpCfg)
		if err != nil {
			return nil, err
		}
		rt.track("amqp publisher", closeFn)
		return amqp.NewPublisher(ch, amqpCfg)

	default:
		return nil, fmt.Errorf("unknown notify type: %q", cfg.Notify.Type)
	}
}

func (rt *Runtime) amqpConsumer(cfg *Config, dispatcher *fanout.Dispatcher) (*amqp.Consumer, error) {
	amqpCfg, err := decodeAMQP(cfg)
	if err != nil {
		return nil, err
	}
	ch, closeFn, err := amqp.Dial(amqpCfg)
	if err != nil {
		return nil, err
	}
	rt.track("amqp consumer", closeFn)
	return amqp.NewConsumer(ch, amqpCfg, dispatcher)
}

func decodeAMQP(cfg *Config) (amqp.Config, error) {
	var amqpCfg amqp.Config
	if err := decodeOptions(cfg.Notify.AMQP, &amqpCfg); err != nil {
		return amqpCfg, fmt.Errorf("failed to decode notify.amqp config: %w", err)
	}
	if err := validate.Struct(amqpCfg); err != nil {
		return amqpCfg, fmt.Errorf("notify.amqp: %w", formatValidationError(err))
	}
	return amqpCfg, nil
}

// servedBlobs returns the store whose objects the file API serves under
// /blobs. S3 objects are served by the provider.
func servedBlobs(cfg *Config, blobs blob.Store) blob.Store {
	if cfg.Blobs.Type == "s3" {
		return nil
	}
	return blobs
}

func logStack(cfg *Config, records record.Store, blobs blob.Store, c cache.Store) {
	logger.Info("File service backends: records=%s (%T) blobs=%s (%T) cache=%s (%T) notify=%s",
		cfg.Records.Type, records, cfg.Blobs.Type, blobs, cfg.Cache.Type, c, cfg.Notify.Type)
}
