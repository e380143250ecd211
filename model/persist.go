package model

import (
	"context"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/store"
)

// target selects where an operation is executed.
type target int

const (
	targetStore target = iota
	targetMirror
)

type callOptions struct {
	target  target
	mask    Mask
	missing bool
}

// CallOption configures a single persistence call.
type CallOption func(*callOptions)

// OnMirror executes the call against the model's mirror instead of the
// store.
func OnMirror() CallOption {
	return func(o *callOptions) { o.target = targetMirror }
}

// WithMask sets the mask applied to returned documents.
func WithMask(mask Mask) CallOption {
	return func(o *callOptions) { o.mask = mask }
}

// WithMissing keeps a nil entry for every missing document of a batch read.
func WithMissing() CallOption {
	return func(o *callOptions) { o.missing = true }
}

func callOpts(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get loads document id. A missing document fails with store.ErrNotFound.
func (m *Model) Get(ctx context.Context, id string, opts ...CallOption) (*Instance, error) {
	o := callOpts(opts)
	if o.target == targetMirror {
		if err := m.checkMirror(); err != nil {
			return nil, err
		}
		data, err := m.mirrorGet(ctx, id)
		if err != nil {
			return nil, err
		}
		return m.Hydrate(data, id)
	}

	inst, found, err := m.TryGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound(id)
	}
	return inst, nil
}

// TryGet loads document id and reports whether it exists.
func (m *Model) TryGet(ctx context.Context, id string) (*Instance, bool, error) {
	if err := m.checkStore(); err != nil {
		return nil, false, err
	}
	m.analytics.Add(m.resource, analytics.OpGet, id)
	snap, err := m.store.Get(ctx, m.Ref(id))
	if err != nil {
		return nil, false, m.translator.Translate(err)
	}
	if !snap.Exists {
		return nil, false, nil
	}
	inst, err := m.FromSnapshot(snap)
	if err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// Exists reports whether document id exists in the store.
func (m *Model) Exists(ctx context.Context, id string) (bool, error) {
	_, found, err := m.TryGet(ctx, id)
	return found, err
}

// Find loads document id and returns it masked.
func (m *Model) Find(ctx context.Context, id string, opts ...CallOption) (store.Data, error) {
	inst, err := m.Get(ctx, id, opts...)
	if err != nil {
		return nil, err
	}
	return inst.Mask(callOpts(opts).mask), nil
}

// TryFind loads document id masked and reports whether it exists.
func (m *Model) TryFind(ctx context.Context, id string, opts ...CallOption) (store.Data, bool, error) {
	inst, found, err := m.TryGet(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	return inst.Mask(callOpts(opts).mask), true, nil
}

// BatchGet loads the documents ids in order. Missing documents are left out
// unless WithMissing is given, in which case their entry is nil.
func (m *Model) BatchGet(ctx context.Context, ids []string, opts ...CallOption) ([]*Instance, error) {
	o := callOpts(opts)
	if err := m.checkStore(); err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, store.Errorf(store.KindInvalidArgument, "Given ids can not be undefined!")
	}
	if len(ids) == 0 {
		return []*Instance{}, nil
	}

	refs := make([]store.DocRef, len(ids))
	for i, id := range ids {
		refs[i] = m.Ref(id)
	}
	m.analytics.BatchAdd(m.resource, analytics.OpGet, ids)
	snaps, err := m.store.BatchGet(ctx, refs)
	if err != nil {
		return nil, m.translator.Translate(err)
	}

	list := make([]*Instance, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists {
			if o.missing {
				list = append(list, nil)
			}
			continue
		}
		inst, err := m.FromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		list = append(list, inst)
	}
	return list, nil
}

// BatchFind loads the documents ids masked. With OnMirror the documents are
// read from the mirror.
func (m *Model) BatchFind(ctx context.Context, ids []string, opts ...CallOption) ([]store.Data, error) {
	o := callOpts(opts)
	if o.target == targetMirror {
		return m.mirrorBatchFind(ctx, ids, o)
	}

	insts, err := m.BatchGet(ctx, ids, opts...)
	if err != nil {
		return nil, err
	}
	docs := make([]store.Data, len(insts))
	for i, inst := range insts {
		if inst != nil {
			docs[i] = inst.Mask(o.mask)
		}
	}
	return docs, nil
}

func (m *Model) mirrorBatchFind(ctx context.Context, ids []string, o callOptions) ([]store.Data, error) {
	if err := m.checkMirror(); err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, store.Errorf(store.KindInvalidArgument, "Given ids can not be undefined!")
	}
	if len(ids) == 0 {
		return []store.Data{}, nil
	}
	found, err := m.mirror.MultiGet(ctx, ids)
	if err != nil {
		return nil, m.translator.Translate(err)
	}
	docs := make([]store.Data, 0, len(found))
	for _, doc := range m.MaskAll(found, o.mask) {
		if doc == nil && !o.missing {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// BatchFindMap is BatchFind keyed by document id. With WithMissing every
// missing id maps to nil.
func (m *Model) BatchFindMap(ctx context.Context, ids []string, opts ...CallOption) (map[string]store.Data, error) {
	docs, err := m.BatchFind(ctx, ids, append(opts, WithMissing())...)
	if err != nil {
		return nil, err
	}
	missing := callOpts(opts).missing
	result := make(map[string]store.Data, len(docs))
	for i, doc := range docs {
		if doc == nil {
			if missing {
				result[ids[i]] = nil
			}
			continue
		}
		result[ids[i]] = doc
	}
	return result, nil
}

// Remove deletes document id. Deleting a missing document succeeds.
func (m *Model) Remove(ctx context.Context, id string, opts ...CallOption) error {
	if callOpts(opts).target == targetMirror {
		if err := m.checkMirror(); err != nil {
			return err
		}
		return m.translator.Translate(m.mirror.Delete(ctx, id))
	}
	if err := m.checkStore(); err != nil {
		return err
	}
	m.analytics.Add(m.resource, analytics.OpDelete, id)
	return m.translator.Translate(m.store.Delete(ctx, m.Ref(id)))
}

// Create writes the instance as a new document and returns it masked. It
// fails with store.ErrAlreadyExists when the document exists.
func (i *Instance) Create(ctx context.Context, opts ...CallOption) (store.Data, error) {
	return i.write(ctx, OpCreate, opts)
}

// Update merges the instance into the stored document and returns it
// masked. It fails with store.ErrPreconditionFailed when fields were
// removed since the last full write.
func (i *Instance) Update(ctx context.Context, opts ...CallOption) (store.Data, error) {
	return i.write(ctx, OpUpdate, opts)
}

// Set writes the instance in full, creating the document when missing, and
// returns it masked.
func (i *Instance) Set(ctx context.Context, opts ...CallOption) (store.Data, error) {
	return i.write(ctx, OpSet, opts)
}

var storeOps = map[WriteOp]analytics.Operation{
	OpCreate: analytics.OpCreate,
	OpUpdate: analytics.OpUpdate,
	OpSet:    analytics.OpSet,
}

func (i *Instance) write(ctx context.Context, op WriteOp, opts []CallOption) (store.Data, error) {
	o := callOpts(opts)
	m := i.model

	if o.target == targetMirror {
		if err := m.checkMirror(); err != nil {
			return nil, err
		}
	} else if err := m.checkStore(); err != nil {
		return nil, err
	}
	if err := i.Prepare(ctx, op); err != nil {
		return nil, err
	}

	if o.target == targetMirror {
		if err := m.mirrorWrite(ctx, op, i); err != nil {
			return nil, err
		}
		i.Written(op)
		return i.Mask(o.mask), nil
	}

	m.analytics.Add(m.resource, storeOps[op], i.id)
	ref := i.Ref()
	var err error
	switch op {
	case OpCreate:
		err = m.store.Create(ctx, ref, i.Data())
	case OpUpdate:
		err = m.store.Update(ctx, ref, i.Data())
	case OpSet:
		err = m.store.Set(ctx, ref, i.Data())
	}
	if err != nil {
		return nil, m.translator.Translate(err)
	}
	i.Written(op)
	return i.Mask(o.mask), nil
}
