package dagpin

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/i5heu/dagpin/pkg/model"
)

// Add pins a stream of descriptors in input order, emitting each CID once
// its entry is committed. The first failing item terminates the call with
// its error on the error channel; entries committed for earlier items
// remain.
func (p *Pinner) Add(ctx context.Context, src <-chan model.Descriptor, opts ...AddOption) (<-chan cid.Cid, <-chan error) {
	svc, err := p.svcHandle()
	if err != nil {
		return failCidStream(err)
	}
	return svc.Add(ctx, src, opts...)
}

// AddOne pins a single descriptor synchronously.
func (p *Pinner) AddOne(ctx context.Context, d model.Descriptor, opts ...AddOption) error {
	svc, err := p.svcHandle()
	if err != nil {
		return err
	}
	return svc.AddOne(ctx, d, opts...)
}

// Pin is shorthand for AddOne with an explicit traversal mode.
func (p *Pinner) Pin(ctx context.Context, c cid.Cid, recursive bool) error {
	mode := model.ModeDirect
	if recursive {
		mode = model.ModeRecursive
	}
	return p.AddOne(ctx, model.Descriptor{Cid: c, Mode: mode})
}

// Remove unpins a stream of CIDs in input order with Add's termination
// semantics. Indirect status of descendants disappears with its root since
// it is derived, never stored.
func (p *Pinner) Remove(ctx context.Context, src <-chan cid.Cid, opts ...RemoveOption) (<-chan cid.Cid, <-chan error) {
	svc, err := p.svcHandle()
	if err != nil {
		return failCidStream(err)
	}
	return svc.Remove(ctx, src, opts...)
}

// RemoveOne unpins a single CID synchronously.
func (p *Pinner) RemoveOne(ctx context.Context, c cid.Cid, opts ...RemoveOption) error {
	svc, err := p.svcHandle()
	if err != nil {
		return err
	}
	return svc.RemoveOne(ctx, c, opts...)
}

// Unpin is shorthand for RemoveOne dropping every stored kind.
func (p *Pinner) Unpin(ctx context.Context, c cid.Cid) error {
	return p.RemoveOne(ctx, c)
}

// List streams all pin entries: direct, recursive roots, and derived
// indirect members of recursive closures.
func (p *Pinner) List(ctx context.Context, opts ...ListOption) (<-chan model.Entry, <-chan error) {
	svc, err := p.svcHandle()
	if err != nil {
		out := make(chan model.Entry)
		close(out)
		return out, failErrc(err)
	}
	return svc.List(ctx, opts...)
}

// IsPinned answers, per requested kind (all kinds when none are given),
// whether that status holds for c.
func (p *Pinner) IsPinned(ctx context.Context, c cid.Cid, kinds ...model.Kind) (model.Status, error) {
	svc, err := p.svcHandle()
	if err != nil {
		return model.Status{}, err
	}
	return svc.IsPinned(ctx, c, kinds...)
}

// Verify checks that every recursive root's closure is still fully present
// in the block store.
func (p *Pinner) Verify(ctx context.Context) (<-chan VerifyStatus, <-chan error) {
	svc, err := p.svcHandle()
	if err != nil {
		out := make(chan VerifyStatus)
		close(out)
		return out, failErrc(err)
	}
	return svc.Verify(ctx)
}

func failErrc(err error) <-chan error {
	errc := make(chan error, 1)
	errc <- err
	close(errc)
	return errc
}

func failCidStream(err error) (<-chan cid.Cid, <-chan error) {
	out := make(chan cid.Cid)
	close(out)
	return out, failErrc(err)
}
