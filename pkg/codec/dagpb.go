package codec

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"google.golang.org/protobuf/encoding/protowire"
)

// dag-pb wire layout:
//
//	PBNode { repeated PBLink Links = 2; optional bytes Data = 1; }
//	PBLink { optional bytes Hash = 1; optional string Name = 2; optional uint64 Tsize = 3; }
const (
	pbNodeLinksField = 2
	pbNodeDataField  = 1
	pbLinkHashField  = 1
	pbLinkNameField  = 2
	pbLinkTsizeField = 3
)

// ExtractDagPB returns the explicit link table of a dag-pb node, in encoded
// order.
func ExtractDagPB(data []byte) ([]Link, error) {
	var links []Link

	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, fmt.Errorf("dagpin: decode dag-pb node: %w", protowire.ParseError(n))
		}
		rest = rest[n:]

		if num == pbNodeLinksField && typ == protowire.BytesType {
			value, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return nil, fmt.Errorf("dagpin: decode dag-pb link field: %w", protowire.ParseError(n))
			}
			rest = rest[n:]

			link, err := parsePBLink(value)
			if err != nil {
				return nil, err
			}
			links = append(links, link)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, rest)
		if n < 0 {
			return nil, fmt.Errorf("dagpin: decode dag-pb field %d: %w", num, protowire.ParseError(n))
		}
		rest = rest[n:]
	}

	return links, nil
}

func parsePBLink(data []byte) (Link, error) {
	var link Link

	rest := data
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return Link{}, fmt.Errorf("dagpin: decode dag-pb link: %w", protowire.ParseError(n))
		}
		rest = rest[n:]

		switch {
		case num == pbLinkHashField && typ == protowire.BytesType:
			value, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return Link{}, fmt.Errorf("dagpin: decode dag-pb link hash: %w", protowire.ParseError(n))
			}
			rest = rest[n:]

			target, err := cid.Cast(value)
			if err != nil {
				return Link{}, fmt.Errorf("dagpin: dag-pb link hash is not a cid: %w", err)
			}
			link.Cid = target
		case num == pbLinkNameField && typ == protowire.BytesType:
			value, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return Link{}, fmt.Errorf("dagpin: decode dag-pb link name: %w", protowire.ParseError(n))
			}
			rest = rest[n:]
			link.Name = string(value)
		default:
			n = protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return Link{}, fmt.Errorf("dagpin: decode dag-pb link field %d: %w", num, protowire.ParseError(n))
			}
			rest = rest[n:]
		}
	}

	if !link.Cid.Defined() {
		return Link{}, fmt.Errorf("dagpin: dag-pb link has no hash")
	}
	return link, nil
}

// BuildDagPB encodes a dag-pb node from a payload and its links. Used by the
// importer and by test fixtures.
func BuildDagPB(data []byte, links []Link) []byte {
	var buf []byte

	for _, link := range links {
		var lb []byte
		lb = protowire.AppendTag(lb, pbLinkHashField, protowire.BytesType)
		lb = protowire.AppendBytes(lb, link.Cid.Bytes())
		lb = protowire.AppendTag(lb, pbLinkNameField, protowire.BytesType)
		lb = protowire.AppendBytes(lb, []byte(link.Name))

		buf = protowire.AppendTag(buf, pbNodeLinksField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, lb)
	}

	if len(data) > 0 {
		buf = protowire.AppendTag(buf, pbNodeDataField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, data)
	}

	return buf
}
