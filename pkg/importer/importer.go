// Package importer builds pinnable DAGs from byte streams: content-defined
// raw leaf blocks under a dag-pb root. It exists for fixtures, examples and
// embedders that need local DAGs to pin; the pin core itself never writes
// blocks.
package importer

import (
	"context"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/i5heu/dagpin/pkg/codec"
	"github.com/i5heu/dagpin/pkg/storage"
)

// Options tunes an import.
type Options struct {
	// RootData is stored in the dag-pb root's data section.
	RootData []byte
	// LinkPrefix names the root's links; links are named
	// "<LinkPrefix><index>". Empty leaves links unnamed.
	LinkPrefix string
}

// Import chunks r with a buzhash splitter, writes each chunk as a raw block,
// and writes a dag-pb root linking to every leaf in stream order. It returns
// the root CID.
func Import(ctx context.Context, store storage.MutableStore, r io.Reader, opts Options) (cid.Cid, error) {
	bz := chunker.NewBuzhash(r)

	var links []codec.Link
	for i := 0; ; i++ {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return cid.Undef, fmt.Errorf("dagpin: read chunk: %w", err)
		}

		leaf, err := putBlock(ctx, store, cid.Raw, chunk)
		if err != nil {
			return cid.Undef, err
		}

		name := ""
		if opts.LinkPrefix != "" {
			name = fmt.Sprintf("%s%d", opts.LinkPrefix, i)
		}
		links = append(links, codec.Link{Name: name, Cid: leaf})
	}

	node := codec.BuildDagPB(opts.RootData, links)
	root, err := putBlock(ctx, store, cid.DagProtobuf, node)
	if err != nil {
		return cid.Undef, err
	}
	return root, nil
}

func putBlock(ctx context.Context, store storage.MutableStore, code uint64, data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("dagpin: hash block: %w", err)
	}
	c := cid.NewCidV1(code, mh)

	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return cid.Undef, fmt.Errorf("dagpin: build block %s: %w", c, err)
	}
	if err := store.Put(ctx, blk); err != nil {
		return cid.Undef, fmt.Errorf("dagpin: store block %s: %w", c, err)
	}
	return c, nil
}
