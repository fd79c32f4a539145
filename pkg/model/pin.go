// Package model holds the value types shared by the pin subsystem: pin
// kinds, stored entries, and the descriptors consumed by streaming Add calls.
package model

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Kind classifies a pin. Direct and Recursive are stored; Indirect is a
// derived view over the closures of recursive roots and never stored.
type Kind uint8

const (
	KindDirect Kind = iota
	KindRecursive
	KindIndirect
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindRecursive:
		return "recursive"
	case KindIndirect:
		return "indirect"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses the string form produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "direct":
		return KindDirect, nil
	case "recursive":
		return KindRecursive, nil
	case "indirect":
		return KindIndirect, nil
	default:
		return 0, fmt.Errorf("%w: unknown pin kind %q", ErrInvalidInput, s)
	}
}

// Storable reports whether the kind may be written to a pin set.
func (k Kind) Storable() bool {
	return k == KindDirect || k == KindRecursive
}

// Entry is one row of a pin listing.
type Entry struct {
	Cid  cid.Cid
	Kind Kind
}

// Mode selects the traversal behavior of a single descriptor. ModeDefault
// defers to the batch-level default.
type Mode uint8

const (
	ModeDefault Mode = iota
	ModeRecursive
	ModeDirect
)

// Descriptor is one item of an Add request: a CID plus an optional per-item
// override of the batch's recursive default.
type Descriptor struct {
	Cid  cid.Cid
	Mode Mode
}

// ErrInvalidInput marks a malformed descriptor or kind.
var ErrInvalidInput = errors.New("dagpin: invalid input")

// Validate rejects descriptors that cannot be normalized.
func (d Descriptor) Validate() error {
	if !d.Cid.Defined() {
		return fmt.Errorf("%w: descriptor has no cid", ErrInvalidInput)
	}
	if d.Mode > ModeDirect {
		return fmt.Errorf("%w: descriptor mode %d", ErrInvalidInput, d.Mode)
	}
	return nil
}

// Recursive normalizes the descriptor against the batch default.
func (d Descriptor) Recursive(batchDefault bool) bool {
	switch d.Mode {
	case ModeRecursive:
		return true
	case ModeDirect:
		return false
	default:
		return batchDefault
	}
}

// Status is the answer of an IsPinned query: the kinds that actually hold
// for the CID, restricted to the kinds that were asked for.
type Status struct {
	Pinned bool
	Kinds  []Kind
}
