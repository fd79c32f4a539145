// Package dagpin decides which content-addressed blocks must survive
// garbage collection. It maintains direct and recursive pin entries,
// resolves recursive pin closures against a block store, and derives
// indirect pin status from the closures of recursive roots.
package dagpin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/i5heu/dagpin/internal/pinner"
	"github.com/i5heu/dagpin/internal/pinset"
	"github.com/i5heu/dagpin/internal/walker"
	"github.com/i5heu/dagpin/pkg/codec"
	"github.com/i5heu/dagpin/pkg/model"
	"github.com/i5heu/dagpin/pkg/storage"
)

var (
	ErrNotStarted = errors.New("dagpin: pinner not started")
	ErrClosed     = errors.New("dagpin: pinner closed")

	// Re-exported sentinels so callers can match errors without reaching
	// into internal packages.
	ErrBlockNotFound            = storage.ErrBlockNotFound
	ErrUnsupportedCodec         = codec.ErrUnsupportedCodec
	ErrNotPinned                = pinset.ErrNotPinned
	ErrAlreadyPinnedRecursively = pinner.ErrAlreadyPinnedRecursively
	ErrInvalidInput             = model.ErrInvalidInput
)

// Option and status types of the service, re-exported for callers.
type (
	AddOption    = pinner.AddOption
	RemoveOption = pinner.RemoveOption
	ListOption   = pinner.ListOption
	VerifyStatus = pinner.VerifyStatus
	BadNode      = pinner.BadNode
)

// WithRecursive sets the batch default of an Add call. Descriptors in
// ModeDefault follow it; per-item modes override it.
func WithRecursive(recursive bool) AddOption { return pinner.WithRecursive(recursive) }

// WithKinds restricts a Remove call to the given stored kinds.
func WithKinds(kinds ...model.Kind) RemoveOption { return pinner.WithKinds(kinds...) }

// WithListKinds restricts a List call to the given kinds.
func WithListKinds(kinds ...model.Kind) ListOption { return pinner.WithListKinds(kinds...) }

// Config configures a Pinner instance.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	// When empty and no BlockStore is injected, everything runs in memory.
	Paths []string
	// BlockStore optionally injects an external block store, e.g. one
	// backed by a network exchange. When nil, a local store is opened
	// under Paths[0]/blocks (or in memory).
	BlockStore storage.BlockStore
	// MinimumFreeGB is a free-space threshold for on-disk operation.
	MinimumFreeGB uint
	// WalkConcurrency bounds the parallel block lookups per traversal
	// level. Zero picks a default based on the CPU count.
	WalkConcurrency int
	// CompressBlocks enables lzma compression in the local block store.
	CompressBlocks bool
	// Logger is an optional structured logger. If nil, a stderr logger is
	// used.
	Logger *slog.Logger
}

// Pinner is the main handle. It owns the pin set, the codec registry, the
// closure walker, and the lifecycle of the local stores.
type Pinner struct {
	log    *slog.Logger
	config Config

	registry *codec.Registry

	svcMu sync.RWMutex
	svc   *pinner.Service
	pins  pinset.Set
	local *storage.BadgerStore // nil when the block store is external or in-memory

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// defaultLogger returns a logger that writes text logs to stderr at Info
// level. Applications can inject their own slog.Logger for JSON, different
// levels, etc.
func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a Pinner handle. New does not perform I/O or start
// background work; call Start to open the stores.
func New(conf Config) (*Pinner, error) {
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &Pinner{
		log:      conf.Logger,
		config:   conf,
		registry: codec.DefaultRegistry(),
	}, nil
}

// Registry exposes the codec registry so embedders can register extractors
// for additional codecs before Start.
func (p *Pinner) Registry() *codec.Registry {
	return p.registry
}

// Start opens the stores and wires the pin service. Start is safe to call
// multiple times; only the first call has effect.
func (p *Pinner) Start(ctx context.Context) error {
	var startErr error
	p.startOnce.Do(func() {
		store := p.config.BlockStore
		var pins pinset.Set

		if len(p.config.Paths) > 0 {
			dataRoot := p.config.Paths[0]
			if err := os.MkdirAll(dataRoot, 0o700); err != nil {
				startErr = fmt.Errorf("mkdir %s: %w", dataRoot, err)
				return
			}

			if store == nil {
				local, err := storage.NewBadgerStore(storage.BadgerConfig{
					Path:          filepath.Join(dataRoot, "blocks"),
					MinimumFreeGB: int(p.config.MinimumFreeGB),
					Compress:      p.config.CompressBlocks,
				})
				if err != nil {
					startErr = fmt.Errorf("init block store: %w", err)
					return
				}
				p.local = local
				store = local
			}

			badgerPins, err := pinset.NewBadgerSet(pinset.BadgerConfig{
				Path: filepath.Join(dataRoot, "pins"),
			})
			if err != nil {
				startErr = fmt.Errorf("init pin set: %w", err)
				return
			}
			pins = badgerPins
		} else {
			if store == nil {
				store = storage.NewMemStore()
			}
			pins = pinset.NewMemSet()
		}

		w, err := walker.New(walker.Config{
			Store:       store,
			Registry:    p.registry,
			Concurrency: p.config.WalkConcurrency,
			Logger:      p.log,
		})
		if err != nil {
			startErr = fmt.Errorf("init walker: %w", err)
			return
		}

		svc, err := pinner.New(pinner.Config{
			Store:    store,
			Registry: p.registry,
			Pins:     pins,
			Walker:   w,
			Logger:   p.log,
		})
		if err != nil {
			startErr = fmt.Errorf("init pin service: %w", err)
			return
		}

		p.svcMu.Lock()
		p.svc = svc
		p.pins = pins
		p.svcMu.Unlock()

		p.started.Store(true)
		p.log.Info("dagpin started", "paths", p.config.Paths)
	})
	return startErr
}

// Run starts the pinner, then blocks until ctx is canceled, and finally
// closes it. It is a convenience for services.
func (p *Pinner) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return p.Close(context.Background())
}

// Close releases the stores. Close is idempotent.
func (p *Pinner) Close(ctx context.Context) error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.svcMu.Lock()
		pins := p.pins
		local := p.local
		p.svc = nil
		p.pins = nil
		p.local = nil
		p.svcMu.Unlock()

		if pins != nil {
			if err := pins.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close pin set: %w", err))
			}
		}
		if local != nil {
			if err := local.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close block store: %w", err))
			}
		}

		p.log.Info("dagpin closed")
	})
	return closeErr
}

func (p *Pinner) svcHandle() (*pinner.Service, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}

	p.svcMu.RLock()
	svc := p.svc
	p.svcMu.RUnlock()
	if svc == nil {
		return nil, ErrClosed
	}

	return svc, nil
}
