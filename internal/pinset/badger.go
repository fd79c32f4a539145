package pinset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/dagpin/pkg/model"
)

var (
	prefixDirect    = []byte("pin/d/")
	prefixRecursive = []byte("pin/r/")
)

// BadgerConfig configures a BadgerSet.
type BadgerConfig struct {
	Path   string
	Logger *logrus.Logger
}

// BadgerSet is the badger-backed Set. Entries are keys under the pin/d/ and
// pin/r/ prefixes with empty values; the layout is not a public contract.
type BadgerSet struct {
	mu       sync.Mutex // single-writer discipline on top of badger txns
	badgerDB *badger.DB
	log      *logrus.Logger
}

// NewBadgerSet opens (or creates) the pin index under config.Path.
func NewBadgerSet(config BadgerConfig) (*BadgerSet, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("dagpin: badger pin set path is required")
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", config.Path, err)
	}

	return &BadgerSet{
		badgerDB: db,
		log:      config.Logger,
	}, nil
}

func kindPrefix(k model.Kind) ([]byte, error) {
	switch k {
	case model.KindDirect:
		return prefixDirect, nil
	case model.KindRecursive:
		return prefixRecursive, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnstorableKind, k)
	}
}

func entryKey(prefix []byte, c cid.Cid) []byte {
	key := make([]byte, 0, len(prefix)+c.ByteLen())
	key = append(key, prefix...)
	key = append(key, c.Bytes()...)
	return key
}

// Put records an entry; idempotent.
func (s *BadgerSet) Put(c cid.Cid, k model.Kind) error {
	prefix, err := kindPrefix(k)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(prefix, c), nil)
	})
	if err != nil {
		return fmt.Errorf("write pin entry %s/%s: %w", c, k, err)
	}
	return nil
}

// Delete removes an entry.
func (s *BadgerSet) Delete(c cid.Cid, k model.Kind) error {
	prefix, err := kindPrefix(k)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.badgerDB.Update(func(txn *badger.Txn) error {
		key := entryKey(prefix, c)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return &NotPinnedError{Cid: c, Kind: k}
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		var notPinned *NotPinnedError
		if errors.As(err, &notPinned) {
			return err
		}
		return fmt.Errorf("delete pin entry %s/%s: %w", c, k, err)
	}
	return nil
}

// Kinds returns the stored kinds for c.
func (s *BadgerSet) Kinds(c cid.Cid) ([]model.Kind, error) {
	var kinds []model.Kind
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		for _, k := range []model.Kind{model.KindDirect, model.KindRecursive} {
			prefix, _ := kindPrefix(k)
			_, err := txn.Get(entryKey(prefix, c))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			kinds = append(kinds, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read pin kinds for %s: %w", c, err)
	}
	return kinds, nil
}

// Roots returns all entries of kind k. Badger iterates keys in order, so the
// result is stable across calls.
func (s *BadgerSet) Roots(k model.Kind) ([]cid.Cid, error) {
	prefix, err := kindPrefix(k)
	if err != nil {
		return nil, err
	}

	var roots []cid.Cid
	err = s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			c, err := cid.Cast(key[len(prefix):])
			if err != nil {
				return fmt.Errorf("corrupt pin key %x: %w", key, err)
			}
			roots = append(roots, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s pins: %w", k, err)
	}
	return roots, nil
}

// Len returns the total number of stored entries.
func (s *BadgerSet) Len() (int, error) {
	var count int
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range [][]byte{prefixDirect, prefixRecursive} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count pin entries: %w", err)
	}
	return count, nil
}

// Close syncs and closes the underlying badger instance.
func (s *BadgerSet) Close() error {
	if err := s.badgerDB.Sync(); err != nil {
		s.log.Warnf("syncing pin set before close: %v", err)
	}
	return s.badgerDB.Close()
}

var _ Set = (*BadgerSet)(nil)
