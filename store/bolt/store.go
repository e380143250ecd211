package bolt

import (
	"context"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/store"
)

type writeOp int

const (
	opCreate writeOp = iota
	opUpdate
	opSet
	opDelete
)

var errNotOpen = &store.ProviderError{Code: store.CodeFailedPrecondition, Details: "bolt store is not open"}

func alreadyExists(ref store.DocRef) error {
	return &store.ProviderError{
		Code:    store.CodeAlreadyExists,
		Details: fmt.Sprintf("Document with id: %s already exists in %s!", ref.ID, ref.Resource),
	}
}

func notFound(ref store.DocRef) error {
	return &store.ProviderError{
		Code:    store.CodeNotFound,
		Details: fmt.Sprintf("Document with id: %s not found in %s!", ref.ID, ref.Resource),
	}
}

// mapError converts bbolt failures into store.ProviderError values. Every
// other error, including those returned by a transaction function, is
// returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var code int
	switch {
	case errors.Is(err, bolt.ErrTimeout):
		code = store.CodeUnavailable
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		code = store.CodeFailedPrecondition
	case errors.Is(err, bolt.ErrDatabaseReadOnly), errors.Is(err, bolt.ErrTxNotWritable):
		code = store.CodePermissionDenied
	case errors.Is(err, bolt.ErrKeyTooLarge), errors.Is(err, bolt.ErrValueTooLarge),
		errors.Is(err, bolt.ErrBucketNameRequired), errors.Is(err, bolt.ErrKeyRequired):
		code = store.CodeInvalidArgument
	case errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrInvalid):
		code = store.CodeDataLoss
	default:
		return err
	}
	return &store.ProviderError{Code: code, Details: err.Error(), Err: err}
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, ref store.DocRef) (store.Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return store.Snapshot{}, err
	}
	snap := store.Snapshot{Ref: ref}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		env, err := readEnvelope(tx, ref)
		if err != nil || env == nil {
			return err
		}
		snap = env.snapshot(ref)
		return nil
	})
	if err != nil {
		return store.Snapshot{}, err
	}
	return snap, nil
}

// BatchGet implements store.Store. All documents are read from one
// consistent view.
func (s *Store) BatchGet(ctx context.Context, refs []store.DocRef) ([]store.Snapshot, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}
	snapshots := make([]store.Snapshot, 0, len(refs))
	err := s.view(ctx, func(tx *bolt.Tx) error {
		for _, ref := range refs {
			env, err := readEnvelope(tx, ref)
			if err != nil {
				return err
			}
			if env == nil {
				snapshots = append(snapshots, store.Snapshot{Ref: ref})
				continue
			}
			snapshots = append(snapshots, env.snapshot(ref))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, ref store.DocRef, data store.Data) error {
	return s.write(ctx, opCreate, ref, data)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, ref store.DocRef, data store.Data) error {
	return s.write(ctx, opUpdate, ref, data)
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, ref store.DocRef, data store.Data) error {
	return s.write(ctx, opSet, ref, data)
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, ref store.DocRef) error {
	return s.write(ctx, opDelete, ref, nil)
}

func (s *Store) write(ctx context.Context, op writeOp, ref store.DocRef, data store.Data) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		return s.apply(tx, op, ref, data)
	})
}

// RunTransaction implements store.Store. Each attempt runs fn inside a
// single bbolt read-write transaction; buffered writes are applied in order
// after fn returns and any failure rolls the whole attempt back.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc, opts store.TxOptions) error {
	attempt := 0
	return store.RunAttempts(ctx, opts.MaxAttempts, func(ctx context.Context) error {
		attempt++
		err := s.update(ctx, func(btx *bolt.Tx) error {
			tx := &transaction{s: s, tx: btx}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return tx.commit()
		})
		if store.IsContention(err) {
			s.logger.Debug("transaction contention",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
}
