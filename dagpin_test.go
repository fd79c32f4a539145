package dagpin

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/dagpin/pkg/importer"
	"github.com/i5heu/dagpin/pkg/model"
	"github.com/i5heu/dagpin/pkg/storage"
)

func startMemPinner(t *testing.T) (*Pinner, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	p, err := New(Config{BlockStore: store})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Close(context.Background()) })
	return p, store
}

func importFixture(t *testing.T, store *storage.MemStore) cid.Cid {
	t.Helper()
	data := make([]byte, 1<<20)
	rand.New(rand.NewSource(7)).Read(data)
	root, err := importer.Import(context.Background(), store, bytes.NewReader(data), importer.Options{})
	require.NoError(t, err)
	return root
}

func TestPinner_NotStarted(t *testing.T) {
	store := storage.NewMemStore()
	p, err := New(Config{BlockStore: store})
	require.NoError(t, err)

	ctx := context.Background()
	root := importFixture(t, store)

	err = p.Pin(ctx, root, true)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = p.IsPinned(ctx, root)
	assert.ErrorIs(t, err, ErrNotStarted)

	entries, errc := p.List(ctx)
	for range entries {
		t.Fatal("no entries expected")
	}
	assert.ErrorIs(t, <-errc, ErrNotStarted)
}

func TestPinner_PinRoundTrip(t *testing.T) {
	p, store := startMemPinner(t)
	ctx := context.Background()
	root := importFixture(t, store)

	require.NoError(t, p.Pin(ctx, root, true))

	status, err := p.IsPinned(ctx, root)
	require.NoError(t, err)
	assert.True(t, status.Pinned)
	assert.Contains(t, status.Kinds, model.KindRecursive)

	entries, errc := p.List(ctx)
	seen := map[cid.Cid]model.Kind{}
	for entry := range entries {
		seen[entry.Cid] = entry.Kind
	}
	require.NoError(t, <-errc)
	assert.Equal(t, model.KindRecursive, seen[root])
	assert.Greater(t, len(seen), 1, "closure members should be listed as indirect")

	require.NoError(t, p.Unpin(ctx, root))

	status, err = p.IsPinned(ctx, root)
	require.NoError(t, err)
	assert.False(t, status.Pinned)
}

func TestPinner_ClosedRejectsOperations(t *testing.T) {
	store := storage.NewMemStore()
	p, err := New(Config{BlockStore: store})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Close(ctx))
	require.NoError(t, p.Close(ctx), "Close must be idempotent")

	root := importFixture(t, store)
	err = p.Pin(ctx, root, false)
	assert.ErrorIs(t, err, ErrClosed)

	_, errc := p.Verify(ctx)
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestPinner_OnDiskLifecycle(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := storage.NewMemStore()
	root := importFixture(t, store)

	open := func() *Pinner {
		p, err := New(Config{
			Paths:      []string{dir},
			BlockStore: store,
		})
		require.NoError(t, err)
		require.NoError(t, p.Start(ctx))
		return p
	}

	p := open()
	require.NoError(t, p.Pin(ctx, root, true))
	require.NoError(t, p.Close(ctx))

	// Pins survive a restart.
	p = open()
	defer p.Close(ctx)

	status, err := p.IsPinned(ctx, root, model.KindRecursive)
	require.NoError(t, err)
	assert.True(t, status.Pinned)
}

func TestPinner_DirectConflictSurfaces(t *testing.T) {
	p, store := startMemPinner(t)
	ctx := context.Background()
	root := importFixture(t, store)

	require.NoError(t, p.Pin(ctx, root, true))

	err := p.Pin(ctx, root, false)
	assert.ErrorIs(t, err, ErrAlreadyPinnedRecursively)
}

func TestPinner_AddStream(t *testing.T) {
	p, store := startMemPinner(t)
	ctx := context.Background()

	rootA := importFixture(t, store)

	src := make(chan model.Descriptor, 1)
	src <- model.Descriptor{Cid: rootA}
	close(src)

	out, errc := p.Add(ctx, src, WithRecursive(true))
	var got []cid.Cid
	for c := range out {
		got = append(got, c)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 1)
	assert.Equal(t, rootA, got[0])
}
