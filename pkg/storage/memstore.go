package storage

import (
	"context"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
)

// MemStore implements MutableStore using in-memory storage. This is a
// reference implementation; production should use a persistent backend.
type MemStore struct {
	mu     sync.RWMutex
	blocks map[cid.Cid]blocks.Block
}

// NewMemStore creates a new MemStore instance.
func NewMemStore() *MemStore {
	return &MemStore{
		blocks: make(map[cid.Cid]blocks.Block),
	}
}

// Put persists a block.
func (s *MemStore) Put(ctx context.Context, blk blocks.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[blk.Cid()] = blk
	return nil
}

// Has reports whether a block is present.
func (s *MemStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.blocks[c]
	return exists, nil
}

// Get retrieves a block by its CID.
func (s *MemStore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blk, exists := s.blocks[c]
	if !exists {
		return nil, &BlockNotFoundError{Cid: c}
	}
	return blk, nil
}

// Delete removes a block.
func (s *MemStore) Delete(ctx context.Context, c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocks, c)
	return nil
}

// Len returns the number of stored blocks.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.blocks)
}

var _ MutableStore = (*MemStore)(nil)
