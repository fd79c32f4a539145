package storage

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dgraph-io/badger/v4"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path             string // data directory for the badger value log and LSM
	MinimumFreeGB    int    // refuse to open when less space is free
	Compress         bool   // lzma-compress block payloads at rest
	ValueLogFileSize int64  // max size of each value log file, 0 for default
	Logger           *logrus.Logger
}

// BadgerStore implements MutableStore on top of badger. Keys are the binary
// CID; values are the block bytes, optionally lzma-compressed.
type BadgerStore struct {
	config   BadgerConfig
	badgerDB *badger.DB
	log      *logrus.Logger
}

// NewBadgerStore opens (or creates) the store under config.Path.
func NewBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("dagpin: badger store path is required")
	}
	if config.ValueLogFileSize == 0 {
		config.ValueLogFileSize = 1024 * 1024 * 100
	}

	if err := checkFreeSpace(config.Logger, config.Path, config.MinimumFreeGB); err != nil {
		return nil, fmt.Errorf("checking free space for BadgerStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = config.ValueLogFileSize
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", config.Path, err)
	}

	return &BadgerStore{
		config:   config,
		badgerDB: db,
		log:      config.Logger,
	}, nil
}

// Put persists a block.
func (s *BadgerStore) Put(ctx context.Context, blk blocks.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value := blk.RawData()
	if s.config.Compress {
		compressed, err := compressLzma(value)
		if err != nil {
			return fmt.Errorf("compress block %s: %w", blk.Cid(), err)
		}
		value = compressed
	}

	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(blk.Cid().Bytes(), value)
	})
	if err != nil {
		return fmt.Errorf("write block %s: %w", blk.Cid(), err)
	}
	return nil
}

// Has reports whether a block is present.
func (s *BadgerStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists bool
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(c.Bytes())
		if err == badger.ErrKeyNotFound {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check block %s: %w", c, err)
	}
	return exists, nil
}

// Get retrieves a block by its CID.
func (s *BadgerStore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.Bytes())
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, &BlockNotFoundError{Cid: c}
	}
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", c, err)
	}

	if s.config.Compress {
		decompressed, err := decompressLzma(value)
		if err != nil {
			return nil, fmt.Errorf("decompress block %s: %w", c, err)
		}
		value = decompressed
	}

	blk, err := blocks.NewBlockWithCid(value, c)
	if err != nil {
		return nil, fmt.Errorf("rebuild block %s: %w", c, err)
	}
	return blk, nil
}

// Delete removes a block.
func (s *BadgerStore) Delete(ctx context.Context, c cid.Cid) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.Bytes())
	})
	if err != nil {
		return fmt.Errorf("delete block %s: %w", c, err)
	}
	return nil
}

// Close flattens and closes the underlying badger instance.
func (s *BadgerStore) Close() error {
	if err := s.clean(); err != nil {
		s.log.Warnf("cleaning badger store before close: %v", err)
	}
	return s.badgerDB.Close()
}

func (s *BadgerStore) clean() error {
	if err := s.badgerDB.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	if err := s.badgerDB.Flatten(runtime.NumCPU()); err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}

	if err := s.badgerDB.RunValueLogGC(0.1); err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

var _ MutableStore = (*BadgerStore)(nil)
