// Package pinner orchestrates pin requests: it normalizes streaming
// descriptors, resolves recursive closures through the walker, and mutates
// the pin set one item at a time. A failed item never leaves a partial
// entry behind, and items already committed earlier in the same call stay
// committed.
package pinner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/i5heu/dagpin/internal/pinset"
	"github.com/i5heu/dagpin/internal/walker"
	"github.com/i5heu/dagpin/pkg/codec"
	"github.com/i5heu/dagpin/pkg/model"
	"github.com/i5heu/dagpin/pkg/storage"
)

// ErrAlreadyPinnedRecursively is the sentinel matched by errors.Is for any
// AlreadyPinnedRecursivelyError.
var ErrAlreadyPinnedRecursively = errors.New("dagpin: already pinned recursively")

// AlreadyPinnedRecursivelyError rejects a direct pin of a CID that is
// currently a recursive root.
type AlreadyPinnedRecursivelyError struct {
	Cid cid.Cid
}

func (e *AlreadyPinnedRecursivelyError) Error() string {
	return fmt.Sprintf("dagpin: %s is already pinned recursively", e.Cid)
}

func (e *AlreadyPinnedRecursivelyError) Is(target error) bool {
	return target == ErrAlreadyPinnedRecursively
}

// Config wires a Service.
type Config struct {
	Store    storage.BlockStore
	Registry *codec.Registry
	Pins     pinset.Set
	Walker   *walker.Walker
	Logger   *slog.Logger
}

// Service is the pin service. All mutation of the pin set goes through mu,
// so concurrent Add/Remove calls interleave at item granularity and never
// mid-item.
type Service struct {
	log    *slog.Logger
	store  storage.BlockStore
	reg    *codec.Registry
	pins   pinset.Set
	walker *walker.Walker

	mu sync.Mutex
}

// New constructs a Service. Store, Registry, Pins and Walker are required.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Pins == nil || cfg.Walker == nil {
		return nil, fmt.Errorf("dagpin: pinner needs store, registry, pin set and walker")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		log:    cfg.Logger,
		store:  cfg.Store,
		reg:    cfg.Registry,
		pins:   cfg.Pins,
		walker: cfg.Walker,
	}, nil
}

// AddOptions carries the batch-level defaults of an Add call.
type AddOptions struct {
	Recursive bool
}

// AddOption mutates AddOptions.
type AddOption func(*AddOptions)

// WithRecursive sets the batch default for descriptors in ModeDefault.
func WithRecursive(recursive bool) AddOption {
	return func(o *AddOptions) { o.Recursive = recursive }
}

// Add consumes descriptors from src until it is closed, pinning each in
// input order and emitting its CID on the returned channel once committed.
// The first failing item terminates the call: its error is delivered on the
// error channel, both channels are closed, and entries committed for earlier
// items remain. The error channel yields at most one error and is closed
// with the output channel.
func (s *Service) Add(ctx context.Context, src <-chan model.Descriptor, opts ...AddOption) (<-chan cid.Cid, <-chan error) {
	options := AddOptions{Recursive: true}
	for _, opt := range opts {
		opt(&options)
	}

	out := make(chan cid.Cid)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case d, ok := <-src:
				if !ok {
					return
				}
				if err := s.addOne(ctx, d, options.Recursive); err != nil {
					errc <- err
					return
				}
				select {
				case out <- d.Cid:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errc
}

// AddOne pins a single descriptor synchronously.
func (s *Service) AddOne(ctx context.Context, d model.Descriptor, opts ...AddOption) error {
	options := AddOptions{Recursive: true}
	for _, opt := range opts {
		opt(&options)
	}
	return s.addOne(ctx, d, options.Recursive)
}

func (s *Service) addOne(ctx context.Context, d model.Descriptor, batchRecursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}

	if !d.Recursive(batchRecursive) {
		return s.pinDirect(d.Cid)
	}
	return s.pinRecursive(ctx, d.Cid)
}

func (s *Service) pinDirect(c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds, err := s.pins.Kinds(c)
	if err != nil {
		return err
	}
	for _, k := range kinds {
		if k == model.KindRecursive {
			return &AlreadyPinnedRecursivelyError{Cid: c}
		}
	}

	if err := s.pins.Put(c, model.KindDirect); err != nil {
		return err
	}
	s.log.Debug("pinned", "cid", c.String(), "kind", model.KindDirect.String())
	return nil
}

func (s *Service) pinRecursive(ctx context.Context, c cid.Cid) error {
	// Resolve the whole closure before touching the pin set; a missing
	// block, unknown codec or expired deadline aborts with the set
	// untouched.
	closure, err := s.walker.Resolve(ctx, c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pins.Put(c, model.KindRecursive); err != nil {
		return err
	}
	s.log.Debug("pinned", "cid", c.String(), "kind", model.KindRecursive.String(), "closure", len(closure))
	return nil
}

// RemoveOptions selects which stored kinds a Remove call drops.
type RemoveOptions struct {
	Kinds []model.Kind
}

// RemoveOption mutates RemoveOptions.
type RemoveOption func(*RemoveOptions)

// WithKinds restricts Remove to the given stored kinds. The default drops
// both Direct and Recursive entries.
func WithKinds(kinds ...model.Kind) RemoveOption {
	return func(o *RemoveOptions) { o.Kinds = kinds }
}

// Remove consumes CIDs from src until it is closed, unpinning each in input
// order and emitting it once removed. Semantics mirror Add: first error
// terminates the call, earlier removals stay applied. Descendants that were
// only indirect under a removed root lose that status implicitly, since it
// is derived rather than stored.
func (s *Service) Remove(ctx context.Context, src <-chan cid.Cid, opts ...RemoveOption) (<-chan cid.Cid, <-chan error) {
	options := RemoveOptions{Kinds: []model.Kind{model.KindDirect, model.KindRecursive}}
	for _, opt := range opts {
		opt(&options)
	}

	out := make(chan cid.Cid)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case c, ok := <-src:
				if !ok {
					return
				}
				if err := s.removeOne(ctx, c, options.Kinds); err != nil {
					errc <- err
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errc
}

// RemoveOne unpins a single CID synchronously.
func (s *Service) RemoveOne(ctx context.Context, c cid.Cid, opts ...RemoveOption) error {
	options := RemoveOptions{Kinds: []model.Kind{model.KindDirect, model.KindRecursive}}
	for _, opt := range opts {
		opt(&options)
	}
	return s.removeOne(ctx, c, options.Kinds)
}

func (s *Service) removeOne(ctx context.Context, c cid.Cid, requested []model.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Defined() {
		return fmt.Errorf("%w: remove undefined cid", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.pins.Kinds(c)
	if err != nil {
		return err
	}

	var drop []model.Kind
	for _, k := range requested {
		if !k.Storable() {
			return fmt.Errorf("%w: cannot remove %s pins", model.ErrInvalidInput, k)
		}
		for _, have := range stored {
			if have == k {
				drop = append(drop, k)
			}
		}
	}
	if len(drop) == 0 {
		return &pinset.NotPinnedError{Cid: c, Any: true}
	}

	for _, k := range drop {
		if err := s.pins.Delete(c, k); err != nil {
			return err
		}
		s.log.Debug("unpinned", "cid", c.String(), "kind", k.String())
	}
	return nil
}

// ListOptions filters a List call.
type ListOptions struct {
	// Kinds restricts the listing; empty means all three kinds.
	Kinds []model.Kind
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithListKinds restricts List to the given kinds.
func WithListKinds(kinds ...model.Kind) ListOption {
	return func(o *ListOptions) { o.Kinds = kinds }
}

// List streams every pin entry: Direct entries, Recursive roots, and every
// CID that is indirect under some recursive root. A CID that is both Direct
// and Indirect yields two entries. Indirect entries require walking all
// recursive roots; a resolution failure terminates the stream with that
// error.
func (s *Service) List(ctx context.Context, opts ...ListOption) (<-chan model.Entry, <-chan error) {
	var options ListOptions
	for _, opt := range opts {
		opt(&options)
	}

	want := func(k model.Kind) bool {
		if len(options.Kinds) == 0 {
			return true
		}
		for _, w := range options.Kinds {
			if w == k {
				return true
			}
		}
		return false
	}

	out := make(chan model.Entry)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		emit := func(e model.Entry) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				errc <- ctx.Err()
				return false
			}
		}

		for _, k := range []model.Kind{model.KindDirect, model.KindRecursive} {
			if !want(k) {
				continue
			}
			roots, err := s.pins.Roots(k)
			if err != nil {
				errc <- err
				return
			}
			for _, c := range roots {
				if !emit(model.Entry{Cid: c, Kind: k}) {
					return
				}
			}
		}

		if !want(model.KindIndirect) {
			return
		}

		roots, err := s.pins.Roots(model.KindRecursive)
		if err != nil {
			errc <- err
			return
		}

		seen := make(map[cid.Cid]struct{})
		for _, root := range roots {
			closure, err := s.walker.Resolve(ctx, root)
			if err != nil {
				errc <- err
				return
			}
			for _, c := range closure {
				if c == root {
					continue
				}
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				if !emit(model.Entry{Cid: c, Kind: model.KindIndirect}) {
					return
				}
			}
		}
	}()

	return out, errc
}

// IsPinned answers, per requested kind (all kinds when none are given),
// whether that status holds for c. Direct and Indirect may hold
// simultaneously.
func (s *Service) IsPinned(ctx context.Context, c cid.Cid, kinds ...model.Kind) (model.Status, error) {
	if err := ctx.Err(); err != nil {
		return model.Status{}, err
	}
	if !c.Defined() {
		return model.Status{}, fmt.Errorf("%w: status of undefined cid", model.ErrInvalidInput)
	}
	if len(kinds) == 0 {
		kinds = []model.Kind{model.KindDirect, model.KindRecursive, model.KindIndirect}
	} else {
		kinds = dedupeKinds(kinds)
	}

	stored, err := s.pins.Kinds(c)
	if err != nil {
		return model.Status{}, err
	}
	has := func(k model.Kind) bool {
		for _, have := range stored {
			if have == k {
				return true
			}
		}
		return false
	}

	var holds []model.Kind
	for _, k := range kinds {
		switch k {
		case model.KindDirect, model.KindRecursive:
			if has(k) {
				holds = append(holds, k)
			}
		case model.KindIndirect:
			indirect, err := s.isIndirect(ctx, c)
			if err != nil {
				return model.Status{}, err
			}
			if indirect {
				holds = append(holds, k)
			}
		default:
			return model.Status{}, fmt.Errorf("%w: pin kind %d", model.ErrInvalidInput, k)
		}
	}

	return model.Status{Pinned: len(holds) > 0, Kinds: holds}, nil
}

// dedupeKinds drops repeated kinds, keeping first-occurrence order.
func dedupeKinds(kinds []model.Kind) []model.Kind {
	seen := make(map[model.Kind]struct{}, len(kinds))
	unique := kinds[:0:0]
	for _, k := range kinds {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}
	return unique
}

// isIndirect reports whether c sits in the closure of some recursive root
// other than itself. The derivation is pure: it reads the pin set and the
// block store and stores nothing.
func (s *Service) isIndirect(ctx context.Context, c cid.Cid) (bool, error) {
	roots, err := s.pins.Roots(model.KindRecursive)
	if err != nil {
		return false, err
	}

	for _, root := range roots {
		if root == c {
			continue
		}
		closure, err := s.walker.Resolve(ctx, root)
		if err != nil {
			return false, err
		}
		for _, member := range closure {
			if member == c {
				return true, nil
			}
		}
	}
	return false, nil
}
