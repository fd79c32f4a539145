// Package storage defines the block store contract the pin core reads from,
// plus two implementations: an in-memory store for tests and embedding, and a
// badger-backed store with transparent lzma compression.
package storage

import (
	"context"
	"errors"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
)

// BlockStore is the read contract the pin core depends on. The store owns
// hash verification; the pin core never re-checks digests.
type BlockStore interface {
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Get(ctx context.Context, c cid.Cid) (blocks.Block, error)
}

// MutableStore extends BlockStore with the write operations used by the
// importer and by test fixtures. The pin core itself never mutates blocks.
type MutableStore interface {
	BlockStore
	Put(ctx context.Context, blk blocks.Block) error
	Delete(ctx context.Context, c cid.Cid) error
}

// ErrBlockNotFound is the sentinel matched by errors.Is for any
// BlockNotFoundError.
var ErrBlockNotFound = errors.New("dagpin: block not found")

// BlockNotFoundError reports which CID a Get or closure resolution was
// missing.
type BlockNotFoundError struct {
	Cid cid.Cid
}

func (e *BlockNotFoundError) Error() string {
	return fmt.Sprintf("dagpin: block %s not found", e.Cid)
}

func (e *BlockNotFoundError) Is(target error) bool {
	return target == ErrBlockNotFound
}
