package codec

import (
	"bytes"
	"fmt"

	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// ExtractDagCBOR decodes a dag-cbor block and collects every embedded CID
// (CBOR tag 42 per the dag-cbor spec) as a link, in encoded order. A link
// that is the direct value of a map entry carries the entry key as its name;
// this is how cross-codec references out of structured nodes are discovered.
func ExtractDagCBOR(data []byte) ([]Link, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("dagpin: decode dag-cbor node: %w", err)
	}

	var links []Link
	if err := collectLinks(nb.Build(), "", &links); err != nil {
		return nil, err
	}
	return links, nil
}

func collectLinks(n datamodel.Node, name string, out *[]Link) error {
	switch n.Kind() {
	case datamodel.Kind_Link:
		lnk, err := n.AsLink()
		if err != nil {
			return fmt.Errorf("dagpin: read dag-cbor link: %w", err)
		}
		cl, ok := lnk.(cidlink.Link)
		if !ok {
			return fmt.Errorf("dagpin: dag-cbor link is not a cid link: %T", lnk)
		}
		*out = append(*out, Link{Name: name, Cid: cl.Cid})
	case datamodel.Kind_Map:
		it := n.MapIterator()
		for !it.Done() {
			k, v, err := it.Next()
			if err != nil {
				return fmt.Errorf("dagpin: iterate dag-cbor map: %w", err)
			}
			key, err := k.AsString()
			if err != nil {
				return fmt.Errorf("dagpin: dag-cbor map key: %w", err)
			}
			if err := collectLinks(v, key, out); err != nil {
				return err
			}
		}
	case datamodel.Kind_List:
		it := n.ListIterator()
		for !it.Done() {
			_, v, err := it.Next()
			if err != nil {
				return fmt.Errorf("dagpin: iterate dag-cbor list: %w", err)
			}
			if err := collectLinks(v, "", out); err != nil {
				return err
			}
		}
	}
	return nil
}
