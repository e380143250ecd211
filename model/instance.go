package model

import (
	"context"
	"time"

	"github.com/jacentio/trellis-odm/store"
)

// WriteOp is a lifecycle governed write.
type WriteOp int

const (
	OpCreate WriteOp = iota
	OpUpdate
	OpSet
)

func (op WriteOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpSet:
		return "set"
	}
	return "unknown"
}

// Instance is one document of a model.
//
// The id is never empty and is mirrored in the document under "id". An
// instance whose fields were removed (RemoveProps) or replaced (Replace)
// must be written in full with Set before Update is accepted again.
type Instance struct {
	model       *Model
	id          string
	doc         store.Data
	isNew       bool
	setRequired bool
	createTime  time.Time
	updateTime  time.Time
}

// Construct builds a new instance from raw. Only whitelisted fields are
// taken from raw; every other key is dropped. An id is generated when id is
// empty.
func (m *Model) Construct(raw store.Data, id string) (*Instance, error) {
	doc := make(store.Data, len(raw)+3)
	for name, f := range m.fields {
		if !f.WhiteList || isReserved(name) {
			continue
		}
		if v, ok := raw[name]; ok {
			doc[name] = deepCopy(v)
		}
	}
	if id == "" {
		id = m.newID()
	}
	now := m.timestamp()
	doc[FieldID] = id
	doc[FieldCreatedAt] = now
	doc[FieldUpdatedAt] = now

	if err := validateDoc(m.fields, doc); err != nil {
		return nil, err
	}
	return &Instance{model: m, id: id, doc: doc, isNew: true}, nil
}

// Hydrate builds an instance of an existing document from its data. The id
// is taken from data["id"] when id is empty.
func (m *Model) Hydrate(data store.Data, id string) (*Instance, error) {
	if data == nil {
		return nil, store.Errorf(store.KindPreconditionFailed, "Id and data are required!")
	}
	if id == "" {
		raw, ok := data[FieldID]
		if !ok || raw == nil {
			return nil, store.Errorf(store.KindPreconditionFailed, "Id and data are required!")
		}
		s, ok := raw.(string)
		if !ok {
			return nil, store.Errorf(store.KindInvalidArgument, "Id should be a string!")
		}
		if s == "" {
			return nil, store.Errorf(store.KindPreconditionFailed, "Id and data are required!")
		}
		id = s
	}
	doc := deepCopy(data).(store.Data)
	doc[FieldID] = id
	return &Instance{model: m, id: id, doc: doc}, nil
}

// FromSnapshot hydrates an instance from a store snapshot.
func (m *Model) FromSnapshot(snap store.Snapshot) (*Instance, error) {
	if !snap.Exists {
		return nil, notFound(snap.Ref.ID)
	}
	inst, err := m.Hydrate(snap.Data, snap.Ref.ID)
	if err != nil {
		return nil, err
	}
	inst.createTime = snap.CreateTime
	inst.updateTime = snap.UpdateTime
	return inst, nil
}

// Model returns the model of the instance.
func (i *Instance) Model() *Model { return i.model }

// ID returns the document id.
func (i *Instance) ID() string { return i.id }

// Ref returns the store reference of the document.
func (i *Instance) Ref() store.DocRef { return i.model.Ref(i.id) }

// IsNew reports whether the document has not been stored yet.
func (i *Instance) IsNew() bool { return i.isNew }

// SetRequired reports whether the next write must be a full Set.
func (i *Instance) SetRequired() bool { return i.setRequired }

// CreateTime is the store create time of a loaded document.
func (i *Instance) CreateTime() time.Time { return i.createTime }

// UpdateTime is the store update time of a loaded document.
func (i *Instance) UpdateTime() time.Time { return i.updateTime }

// Data returns a copy of the document.
func (i *Instance) Data() store.Data {
	return deepCopy(i.doc).(store.Data)
}

// Get returns the value of field name.
func (i *Instance) Get(name string) (any, bool) {
	v, ok := i.doc[name]
	return v, ok
}

// Put sets field name in the document without validation. It is meant for
// hooks; the document is validated before it is written.
func (i *Instance) Put(name string, v any) {
	if isReserved(name) {
		return
	}
	i.doc[name] = v
}

// Validate checks the document against the model fields.
func (i *Instance) Validate() error {
	return validateDoc(i.model.fields, i.doc)
}

// Assign deep merges data into the document. The id and timestamps cannot
// be changed. The instance is left untouched when the result is invalid.
func (i *Instance) Assign(data store.Data) (*Instance, error) {
	merged := deepMerge(i.Data(), i.withReserved(data))
	if err := validateDoc(i.model.fields, merged); err != nil {
		return i, err
	}
	i.doc = merged
	return i, nil
}

// Replace overwrites the document with data, keeping the id and
// timestamps. The next write must be a Set.
func (i *Instance) Replace(data store.Data) (*Instance, error) {
	doc := i.withReserved(data)
	if err := validateDoc(i.model.fields, doc); err != nil {
		return i, err
	}
	i.doc = doc
	i.setRequired = true
	return i, nil
}

// RemoveProps deletes the named fields from the in-memory document. The
// reserved fields are never removed. When a field was removed the next
// write must be a Set.
func (i *Instance) RemoveProps(names ...string) *Instance {
	for _, name := range names {
		if isReserved(name) {
			continue
		}
		if _, ok := i.doc[name]; ok {
			delete(i.doc, name)
			i.setRequired = true
		}
	}
	return i
}

func (i *Instance) withReserved(data store.Data) store.Data {
	doc := make(store.Data, len(data)+3)
	for k, v := range data {
		doc[k] = deepCopy(v)
	}
	for _, name := range []string{FieldID, FieldCreatedAt, FieldUpdatedAt} {
		if v, ok := i.doc[name]; ok {
			doc[name] = v
		} else {
			delete(doc, name)
		}
	}
	return doc
}

// Prepare runs the write lifecycle for op: the operation hook, then the
// BeforeSave hook, then validation, then the timestamp refresh. An Update
// of an instance that requires a full write fails before any hook runs.
func (i *Instance) Prepare(ctx context.Context, op WriteOp) error {
	if op == OpUpdate {
		if err := i.CanUpdate(); err != nil {
			return err
		}
	}
	hooks := i.model.hooks
	var before Hook
	switch op {
	case OpCreate:
		before = hooks.BeforeCreate
	case OpUpdate:
		before = hooks.BeforeUpdate
	case OpSet:
		before = hooks.BeforeSet
	}
	for _, hook := range []Hook{before, hooks.BeforeSave} {
		if hook == nil {
			continue
		}
		if err := hook(ctx, i); err != nil {
			return err
		}
	}
	if err := i.Validate(); err != nil {
		return err
	}

	now := i.model.timestamp()
	if op == OpCreate {
		i.doc[FieldCreatedAt] = now
	}
	i.doc[FieldUpdatedAt] = now
	return nil
}

// CanUpdate fails with store.ErrPreconditionFailed when the instance must
// be written in full with Set.
func (i *Instance) CanUpdate() error {
	if i.setRequired {
		return errSetRequired()
	}
	return nil
}

// Written records a successful write of op.
func (i *Instance) Written(op WriteOp) {
	switch op {
	case OpCreate:
		i.isNew = false
	case OpSet:
		i.isNew = false
		i.setRequired = false
	}
}

func errSetRequired() error {
	return store.Errorf(store.KindPreconditionFailed, "There are properties to remove. Call set() instead of update()")
}

func notFound(id string) error {
	return store.Errorf(store.KindNotFound, "Document with id: %s not found!", id)
}

// deepCopy copies maps and slices of a document value.
func deepCopy(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopy(e)
		}
		return out
	}
	return v
}

// deepMerge merges src into dst. Nested maps are merged key by key; any
// other value in src replaces the one in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, sv := range src {
		sm, ok := sv.(map[string]any)
		if !ok {
			dst[k] = sv
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok {
			dst[k] = sm
			continue
		}
		dst[k] = deepMerge(dm, sm)
	}
	return dst
}
