package pinner

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"

	"github.com/i5heu/dagpin/pkg/model"
	"github.com/i5heu/dagpin/pkg/storage"
)

// BadNode is a closure member that kept a recursive pin from verifying,
// usually because its block is missing.
type BadNode struct {
	Cid cid.Cid
	Err error
}

// VerifyStatus reports the health of one recursive root.
type VerifyStatus struct {
	Root cid.Cid
	Ok   bool
	// Bad lists the nodes that broke the closure, when they are known.
	Bad []BadNode
	// Err carries resolution failures that have no single offending node.
	Err error
}

// Verify walks every recursive root and reports whether its closure is still
// fully present in the block store. One status is emitted per root, in
// stable root order.
func (s *Service) Verify(ctx context.Context) (<-chan VerifyStatus, <-chan error) {
	out := make(chan VerifyStatus)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		roots, err := s.pins.Roots(model.KindRecursive)
		if err != nil {
			errc <- err
			return
		}

		for _, root := range roots {
			status := VerifyStatus{Root: root, Ok: true}

			if _, err := s.walker.Resolve(ctx, root); err != nil {
				if ctx.Err() != nil {
					errc <- ctx.Err()
					return
				}
				status.Ok = false

				var notFound *storage.BlockNotFoundError
				if errors.As(err, &notFound) {
					status.Bad = []BadNode{{Cid: notFound.Cid, Err: err}}
				} else {
					status.Err = err
				}
			}

			select {
			case out <- status:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}
