// Package walker resolves the link-closure of a DAG root against a block
// store. Resolution is all-or-nothing: any missing block, unknown codec or
// expired context aborts the whole walk, and the walker never mutates
// anything.
package walker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/i5heu/dagpin/pkg/codec"
	"github.com/i5heu/dagpin/pkg/storage"
)

// Config configures a Walker.
type Config struct {
	// Store is the block store closures are resolved against.
	Store storage.BlockStore
	// Registry supplies the per-codec link extractors.
	Registry *codec.Registry
	// Concurrency bounds the parallel Has/Get fan-out per traversal level.
	// Zero picks a default based on the CPU count.
	Concurrency int
	// Logger is an optional structured logger. If nil, logging is disabled.
	Logger *slog.Logger
}

// Walker traverses DAGs breadth-first with a deduplicating visited set.
// Blocks are immutable under content addressing, so sibling lookups may run
// concurrently; discovery order stays deterministic regardless.
type Walker struct {
	store       storage.BlockStore
	registry    *codec.Registry
	concurrency int
	log         *slog.Logger
}

// New constructs a Walker.
func New(cfg Config) (*Walker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("dagpin: walker needs a block store")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dagpin: walker needs a codec registry")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Walker{
		store:       cfg.Store,
		registry:    cfg.Registry,
		concurrency: cfg.Concurrency,
		log:         cfg.Logger,
	}, nil
}

// Resolve returns every CID reachable from root, root first, in discovery
// order. It fails with storage.BlockNotFoundError if any reachable block is
// absent, codec.UnsupportedCodecError if any reachable block has no
// extractor, and the context error if the deadline expires mid-walk. On
// error no partial closure is returned.
func (w *Walker) Resolve(ctx context.Context, root cid.Cid) ([]cid.Cid, error) {
	if !root.Defined() {
		return nil, fmt.Errorf("dagpin: resolve undefined cid")
	}

	visited := map[cid.Cid]struct{}{root: {}}
	order := []cid.Cid{root}
	frontier := []cid.Cid{root}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results := w.fetchLevel(ctx, frontier)

		var next []cid.Cid
		for _, res := range results {
			if res.err != nil {
				return nil, res.err
			}
			for _, link := range res.links {
				if _, seen := visited[link.Cid]; seen {
					continue
				}
				visited[link.Cid] = struct{}{}
				order = append(order, link.Cid)
				next = append(next, link.Cid)
			}
		}
		frontier = next
	}

	w.log.Debug("closure resolved", "root", root.String(), "size", len(order))
	return order, nil
}

type fetchResult struct {
	links []codec.Link
	err   error
}

// fetchLevel visits one BFS frontier. Results are indexed by frontier
// position so discovery order does not depend on fetch completion order.
func (w *Walker) fetchLevel(ctx context.Context, frontier []cid.Cid) []fetchResult {
	results := make([]fetchResult, len(frontier))

	workers := w.concurrency
	if workers > len(frontier) {
		workers = len(frontier)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = w.visit(ctx, frontier[i])
			}
		}()
	}

	for i := range frontier {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

func (w *Walker) visit(ctx context.Context, c cid.Cid) fetchResult {
	if err := ctx.Err(); err != nil {
		return fetchResult{err: err}
	}

	has, err := w.store.Has(ctx, c)
	if err != nil {
		return fetchResult{err: fmt.Errorf("dagpin: check block %s: %w", c, err)}
	}
	if !has {
		return fetchResult{err: &storage.BlockNotFoundError{Cid: c}}
	}

	blk, err := w.store.Get(ctx, c)
	if err != nil {
		return fetchResult{err: err}
	}

	links, err := w.registry.Extract(c.Prefix().Codec, blk.RawData())
	if err != nil {
		return fetchResult{err: err}
	}

	return fetchResult{links: links}
}
