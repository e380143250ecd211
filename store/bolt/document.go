package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jacentio/trellis-odm/store"
)

// envelope is the stored form of a document.
type envelope struct {
	Data       store.Data `json:"data"`
	CreateTime time.Time  `json:"createTime"`
	UpdateTime time.Time  `json:"updateTime"`
	Version    uint64     `json:"version"`
}

func (e *envelope) snapshot(ref store.DocRef) store.Snapshot {
	return store.Snapshot{
		Ref:        ref,
		Data:       e.Data,
		Exists:     true,
		CreateTime: e.CreateTime,
		UpdateTime: e.UpdateTime,
	}
}

// readEnvelope returns the stored envelope of ref, or nil when the document
// or its bucket does not exist.
func readEnvelope(tx *bolt.Tx, ref store.DocRef) (*envelope, error) {
	b := tx.Bucket([]byte(ref.Resource))
	if b == nil {
		return nil, nil
	}
	v := b.Get([]byte(ref.ID))
	if v == nil {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(v, &env); err != nil {
		return nil, &store.ProviderError{
			Code:    store.CodeDataLoss,
			Details: fmt.Sprintf("unable to decode document %s: %v", ref, err),
			Err:     err,
		}
	}
	if env.Data == nil {
		env.Data = store.Data{}
	}
	return &env, nil
}

func writeEnvelope(tx *bolt.Tx, ref store.DocRef, env *envelope) error {
	b, err := tx.CreateBucketIfNotExists([]byte(ref.Resource))
	if err != nil {
		return err
	}
	v, err := json.Marshal(env)
	if err != nil {
		return &store.ProviderError{
			Code:    store.CodeInvalidArgument,
			Details: fmt.Sprintf("unable to encode document %s: %v", ref, err),
			Err:     err,
		}
	}
	return b.Put([]byte(ref.ID), v)
}

func deleteEnvelope(tx *bolt.Tx, ref store.DocRef) error {
	b := tx.Bucket([]byte(ref.Resource))
	if b == nil {
		return nil
	}
	return b.Delete([]byte(ref.ID))
}

// apply performs one write against tx. Every write path of the store goes
// through here so single document and transactional writes agree.
func (s *Store) apply(tx *bolt.Tx, op writeOp, ref store.DocRef, data store.Data) error {
	if op == opDelete {
		return deleteEnvelope(tx, ref)
	}

	current, err := readEnvelope(tx, ref)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	switch op {
	case opCreate:
		if current != nil {
			return alreadyExists(ref)
		}
		return writeEnvelope(tx, ref, &envelope{Data: copyData(data), CreateTime: now, UpdateTime: now, Version: 1})

	case opUpdate:
		if current == nil {
			return notFound(ref)
		}
		for k, v := range data {
			current.Data[k] = v
		}
		current.UpdateTime = now
		current.Version++
		return writeEnvelope(tx, ref, current)

	case opSet:
		env := &envelope{Data: copyData(data), CreateTime: now, UpdateTime: now, Version: 1}
		if current != nil {
			env.CreateTime = current.CreateTime
			env.Version = current.Version + 1
		}
		return writeEnvelope(tx, ref, env)
	}
	return fmt.Errorf("unknown write operation %d", op)
}

func copyData(data store.Data) store.Data {
	out := make(store.Data, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
