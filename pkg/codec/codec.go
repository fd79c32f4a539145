// Package codec turns block bytes into their outgoing links. Each multicodec
// gets an Extractor; closure resolution fails loudly on codecs that have
// none, so an unknown block can never be silently treated as a leaf.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
)

// Link is one outgoing edge of a decoded block. Name is empty for codecs
// without named links. Order follows the encoded form.
type Link struct {
	Name string
	Cid  cid.Cid
}

// Extractor decodes block bytes into the ordered sequence of links they
// contain.
type Extractor func(data []byte) ([]Link, error)

// ErrUnsupportedCodec is the sentinel matched by errors.Is for any
// UnsupportedCodecError.
var ErrUnsupportedCodec = errors.New("dagpin: unsupported codec")

// UnsupportedCodecError reports which multicodec no extractor is registered
// for.
type UnsupportedCodecError struct {
	Codec uint64
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("dagpin: no link extractor for codec 0x%x", e.Codec)
}

func (e *UnsupportedCodecError) Is(target error) bool {
	return target == ErrUnsupportedCodec
}

// Registry maps multicodec identifiers to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[uint64]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[uint64]Extractor),
	}
}

// Register installs fn for the given codec, replacing any previous entry.
func (r *Registry) Register(code uint64, fn Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors[code] = fn
}

// Lookup returns the extractor for code, or an UnsupportedCodecError.
func (r *Registry) Lookup(code uint64) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.extractors[code]
	if !exists {
		return nil, &UnsupportedCodecError{Codec: code}
	}
	return fn, nil
}

// Extract decodes data with the extractor registered for code.
func (r *Registry) Extract(code uint64, data []byte) ([]Link, error) {
	fn, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	return fn(data)
}

// DefaultRegistry returns a registry with the built-in codecs: raw (no
// links), dag-pb (explicit link table) and dag-cbor (tag-42 CID values).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(cid.Raw, ExtractRaw)
	r.Register(cid.DagProtobuf, ExtractDagPB)
	r.Register(cid.DagCBOR, ExtractDagCBOR)
	return r
}

// ExtractRaw handles the raw codec: a raw block is always a leaf.
func ExtractRaw(data []byte) ([]Link, error) {
	return nil, nil
}
