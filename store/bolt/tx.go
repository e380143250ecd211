package bolt

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/jacentio/trellis-odm/store"
)

type write struct {
	op   writeOp
	ref  store.DocRef
	data store.Data
}

// transaction implements store.Tx over an open read-write bbolt transaction.
type transaction struct {
	s      *Store
	tx     *bolt.Tx
	writes []write
}

// GetAll implements store.Tx.
func (t *transaction) GetAll(ctx context.Context, refs ...store.DocRef) ([]store.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, &store.ProviderError{
			Code:    store.CodeInvalidArgument,
			Details: "transactions require all reads to be executed before all writes",
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshots := make([]store.Snapshot, 0, len(refs))
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
		env, err := readEnvelope(t.tx, ref)
		if err != nil {
			return nil, err
		}
		if env == nil {
			snapshots = append(snapshots, store.Snapshot{Ref: ref})
			continue
		}
		snapshots = append(snapshots, env.snapshot(ref))
	}
	return snapshots, nil
}

// Create implements store.Tx.
func (t *transaction) Create(ref store.DocRef, data store.Data) error {
	return t.buffer(opCreate, ref, data)
}

// Update implements store.Tx.
func (t *transaction) Update(ref store.DocRef, data store.Data) error {
	return t.buffer(opUpdate, ref, data)
}

// Set implements store.Tx.
func (t *transaction) Set(ref store.DocRef, data store.Data) error {
	return t.buffer(opSet, ref, data)
}

// Delete implements store.Tx.
func (t *transaction) Delete(ref store.DocRef) error {
	return t.buffer(opDelete, ref, nil)
}

func (t *transaction) buffer(op writeOp, ref store.DocRef, data store.Data) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	t.writes = append(t.writes, write{op: op, ref: ref, data: data})
	return nil
}

func (t *transaction) commit() error {
	for _, w := range t.writes {
		if err := t.s.apply(t.tx, w.op, w.ref, w.data); err != nil {
			return err
		}
	}
	return nil
}
