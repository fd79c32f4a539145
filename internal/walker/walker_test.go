package walker

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/dagpin/pkg/codec"
	"github.com/i5heu/dagpin/pkg/storage"
)

func mintCid(t *testing.T, code uint64, data []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(code, mh)
}

func putRaw(t *testing.T, store storage.MutableStore, data string) cid.Cid {
	t.Helper()
	c := mintCid(t, cid.Raw, []byte(data))
	blk, err := blocks.NewBlockWithCid([]byte(data), c)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), blk))
	return c
}

func putDagPB(t *testing.T, store storage.MutableStore, data string, links ...cid.Cid) cid.Cid {
	t.Helper()
	named := make([]codec.Link, len(links))
	for i, l := range links {
		named[i] = codec.Link{Name: fmt.Sprintf("l%d", i), Cid: l}
	}
	node := codec.BuildDagPB([]byte(data), named)
	c := mintCid(t, cid.DagProtobuf, node)
	blk, err := blocks.NewBlockWithCid(node, c)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), blk))
	return c
}

func putDagCBOR(t *testing.T, store storage.MutableStore, links ...cid.Cid) cid.Cid {
	t.Helper()
	n, err := qp.BuildMap(basicnode.Prototype.Any, 1, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "refs", qp.List(int64(len(links)), func(la datamodel.ListAssembler) {
			for _, l := range links {
				qp.ListEntry(la, qp.Link(cidlink.Link{Cid: l}))
			}
		}))
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, dagcbor.Encode(n, &buf))

	c := mintCid(t, cid.DagCBOR, buf.Bytes())
	blk, err := blocks.NewBlockWithCid(buf.Bytes(), c)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), blk))
	return c
}

func newWalker(t *testing.T, store storage.BlockStore, concurrency int) *Walker {
	t.Helper()
	w, err := New(Config{
		Store:       store,
		Registry:    codec.DefaultRegistry(),
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	return w
}

func TestResolve_DiamondDedupe(t *testing.T) {
	store := storage.NewMemStore()
	leaf := putRaw(t, store, "leaf")
	a := putDagPB(t, store, "a", leaf)
	b := putDagPB(t, store, "b", leaf)
	root := putDagPB(t, store, "root", a, b)

	got, err := newWalker(t, store, 1).Resolve(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []cid.Cid{root, a, b, leaf}, got)
}

func TestResolve_CrossCodec(t *testing.T) {
	store := storage.NewMemStore()
	leaf := putRaw(t, store, "leaf")
	pb := putDagPB(t, store, "mid", leaf)
	root := putDagCBOR(t, store, pb)

	got, err := newWalker(t, store, 1).Resolve(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []cid.Cid{root, pb, leaf}, got)
}

func TestResolve_MissingBlockAbortsWhole(t *testing.T) {
	store := storage.NewMemStore()
	leaf := putRaw(t, store, "leaf")
	root := putDagPB(t, store, "root", leaf)

	require.NoError(t, store.Delete(context.Background(), leaf))

	got, err := newWalker(t, store, 1).Resolve(context.Background(), root)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, storage.ErrBlockNotFound)

	var notFound *storage.BlockNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, leaf, notFound.Cid)
}

func TestResolve_MissingRoot(t *testing.T) {
	store := storage.NewMemStore()
	ghost := mintCid(t, cid.Raw, []byte("never stored"))

	_, err := newWalker(t, store, 1).Resolve(context.Background(), ghost)
	assert.ErrorIs(t, err, storage.ErrBlockNotFound)
}

func TestResolve_UnknownCodecFailsLoud(t *testing.T) {
	store := storage.NewMemStore()

	data := []byte("git-ish bytes")
	odd := mintCid(t, cid.GitRaw, data)
	blk, err := blocks.NewBlockWithCid(data, odd)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), blk))

	root := putDagPB(t, store, "root", odd)

	_, err = newWalker(t, store, 1).Resolve(context.Background(), root)
	assert.ErrorIs(t, err, codec.ErrUnsupportedCodec)
}

func TestResolve_CycleTerminates(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	// Content addressing forbids real cycles, but the walker must not
	// diverge on an adversarial store that serves one anyway.
	aCid := mintCid(t, cid.DagProtobuf, []byte("fake-a"))
	bCid := mintCid(t, cid.DagProtobuf, []byte("fake-b"))

	aNode := codec.BuildDagPB(nil, []codec.Link{{Cid: bCid}})
	bNode := codec.BuildDagPB(nil, []codec.Link{{Cid: aCid}})

	aBlk, err := blocks.NewBlockWithCid(aNode, aCid)
	require.NoError(t, err)
	bBlk, err := blocks.NewBlockWithCid(bNode, bCid)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, aBlk))
	require.NoError(t, store.Put(ctx, bBlk))

	got, err := newWalker(t, store, 1).Resolve(ctx, aCid)
	require.NoError(t, err)
	assert.Equal(t, []cid.Cid{aCid, bCid}, got)
}

func TestResolve_DeterministicUnderConcurrency(t *testing.T) {
	store := storage.NewMemStore()

	var children []cid.Cid
	for i := 0; i < 32; i++ {
		children = append(children, putRaw(t, store, fmt.Sprintf("child-%02d", i)))
	}
	root := putDagPB(t, store, "root", children...)

	w := newWalker(t, store, 8)

	first, err := w.Resolve(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, first, 33)
	assert.Equal(t, root, first[0])
	assert.Equal(t, children, first[1:])

	for i := 0; i < 10; i++ {
		again, err := w.Resolve(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// slowStore delays every lookup and honors context expiry, standing in for a
// network-backed store.
type slowStore struct {
	storage.BlockStore
	delay time.Duration
}

func (s *slowStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	time.Sleep(s.delay)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.BlockStore.Has(ctx, c)
}

func (s *slowStore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	time.Sleep(s.delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.BlockStore.Get(ctx, c)
}

func TestResolve_DeadlineExceeded(t *testing.T) {
	mem := storage.NewMemStore()
	leaf := putRaw(t, mem, "leaf")
	root := putDagPB(t, mem, "root", leaf)

	store := &slowStore{BlockStore: mem, delay: 20 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	got, err := newWalker(t, store, 1).Resolve(ctx, root)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
