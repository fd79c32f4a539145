package pinset

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"pgregory.net/rapid"

	"github.com/i5heu/dagpin/pkg/model"
)

// Generators

func genCid(t *rapid.T) cid.Cid {
	data := rapid.SliceOfN(rapid.Byte(), 1, 16).Draw(t, "cidSeed")
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("Failed to hash cid seed: %v", err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

func genKind(t *rapid.T) model.Kind {
	if rapid.Bool().Draw(t, "isDirect") {
		return model.KindDirect
	}
	return model.KindRecursive
}

// SetStateMachine checks MemSet against a naive model map.
type SetStateMachine struct {
	expected map[model.Kind]map[cid.Cid]struct{}
	set      *MemSet
}

func (m *SetStateMachine) Put(t *rapid.T) {
	c := genCid(t)
	k := genKind(t)

	if err := m.set.Put(c, k); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	m.expected[k][c] = struct{}{}
}

func (m *SetStateMachine) PutTwice(t *rapid.T) {
	c := genCid(t)
	k := genKind(t)

	for i := 0; i < 2; i++ {
		if err := m.set.Put(c, k); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	m.expected[k][c] = struct{}{}
}

func (m *SetStateMachine) Delete(t *rapid.T) {
	c := genCid(t)
	k := genKind(t)

	_, pinned := m.expected[k][c]
	err := m.set.Delete(c, k)

	if pinned {
		if err != nil {
			t.Fatalf("Delete of pinned entry failed: %v", err)
		}
		delete(m.expected[k], c)
	} else if !errors.Is(err, ErrNotPinned) {
		t.Fatalf("Delete of absent entry returned %v, want ErrNotPinned", err)
	}
}

func (m *SetStateMachine) Check(t *rapid.T) {
	n, err := m.set.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	want := len(m.expected[model.KindDirect]) + len(m.expected[model.KindRecursive])
	if n != want {
		t.Fatalf("Len = %d, model has %d entries", n, want)
	}

	for _, k := range []model.Kind{model.KindDirect, model.KindRecursive} {
		roots, err := m.set.Roots(k)
		if err != nil {
			t.Fatalf("Roots(%s) failed: %v", k, err)
		}
		if len(roots) != len(m.expected[k]) {
			t.Fatalf("Roots(%s) has %d entries, model has %d", k, len(roots), len(m.expected[k]))
		}
		for _, c := range roots {
			if _, ok := m.expected[k][c]; !ok {
				t.Fatalf("Roots(%s) contains %s, model does not", k, c)
			}
		}
	}
}

func TestMemSet_Rapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &SetStateMachine{
			set: NewMemSet(),
			expected: map[model.Kind]map[cid.Cid]struct{}{
				model.KindDirect:    {},
				model.KindRecursive: {},
			},
		}
		t.Repeat(rapid.StateMachineActions(m))
	})
}
