// Package pinset stores the authoritative Direct and Recursive pin entries.
// Indirect status is never stored here; it is derived upstream from the
// closures of recursive roots.
package pinset

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/i5heu/dagpin/pkg/model"
)

// ErrNotPinned is the sentinel matched by errors.Is for any NotPinnedError.
var ErrNotPinned = errors.New("dagpin: not pinned")

// ErrUnstorableKind rejects writes of derived kinds.
var ErrUnstorableKind = errors.New("dagpin: kind is derived, not stored")

// NotPinnedError reports which CID (and, when Any is false, which kind) a
// Delete or Remove did not find.
type NotPinnedError struct {
	Cid  cid.Cid
	Kind model.Kind
	// Any is set when no stored kind matched the request at all.
	Any bool
}

func (e *NotPinnedError) Error() string {
	if e.Any {
		return fmt.Sprintf("dagpin: %s is not pinned", e.Cid)
	}
	return fmt.Sprintf("dagpin: %s is not pinned as %s", e.Cid, e.Kind)
}

func (e *NotPinnedError) Is(target error) bool {
	return target == ErrNotPinned
}

// Set is the stored pin index. Only Direct and Recursive entries are
// storable. Implementations serialize mutation; reads observe consistent
// snapshots.
type Set interface {
	// Put records an entry. Adding the same {cid, kind} twice is a no-op.
	Put(c cid.Cid, k model.Kind) error
	// Delete removes an entry, failing NotPinnedError if it is absent.
	Delete(c cid.Cid, k model.Kind) error
	// Kinds returns the kinds actually stored for c.
	Kinds(c cid.Cid) ([]model.Kind, error)
	// Roots returns a stable-ordered snapshot of all entries of one kind.
	Roots(k model.Kind) ([]cid.Cid, error)
	// Len returns the total number of stored entries.
	Len() (int, error)
	Close() error
}

// MemSet is the in-memory Set.
type MemSet struct {
	mu        sync.RWMutex
	direct    map[cid.Cid]struct{}
	recursive map[cid.Cid]struct{}
}

// NewMemSet creates an empty MemSet.
func NewMemSet() *MemSet {
	return &MemSet{
		direct:    make(map[cid.Cid]struct{}),
		recursive: make(map[cid.Cid]struct{}),
	}
}

func (s *MemSet) table(k model.Kind) (map[cid.Cid]struct{}, error) {
	switch k {
	case model.KindDirect:
		return s.direct, nil
	case model.KindRecursive:
		return s.recursive, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnstorableKind, k)
	}
}

// Put records an entry; idempotent.
func (s *MemSet) Put(c cid.Cid, k model.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(k)
	if err != nil {
		return err
	}
	table[c] = struct{}{}
	return nil
}

// Delete removes an entry.
func (s *MemSet) Delete(c cid.Cid, k model.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.table(k)
	if err != nil {
		return err
	}
	if _, exists := table[c]; !exists {
		return &NotPinnedError{Cid: c, Kind: k}
	}
	delete(table, c)
	return nil
}

// Kinds returns the stored kinds for c.
func (s *MemSet) Kinds(c cid.Cid) ([]model.Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var kinds []model.Kind
	if _, ok := s.direct[c]; ok {
		kinds = append(kinds, model.KindDirect)
	}
	if _, ok := s.recursive[c]; ok {
		kinds = append(kinds, model.KindRecursive)
	}
	return kinds, nil
}

// Roots returns all entries of kind k, ordered by binary CID for stability.
func (s *MemSet) Roots(k model.Kind) ([]cid.Cid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, err := s.table(k)
	if err != nil {
		return nil, err
	}

	roots := make([]cid.Cid, 0, len(table))
	for c := range table {
		roots = append(roots, c)
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].KeyString() < roots[j].KeyString()
	})
	return roots, nil
}

// Len returns the total number of stored entries.
func (s *MemSet) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.direct) + len(s.recursive), nil
}

// Close is a no-op for the in-memory set.
func (s *MemSet) Close() error { return nil }

var _ Set = (*MemSet)(nil)
