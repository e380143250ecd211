package store

import (
	"context"
	"strings"
	"time"
)

// Backend identifies the implementation behind a Store. Models and
// transaction handlers must agree on it.
type Backend string

const (
	BackendDynamo Backend = "dynamodb"
	BackendBolt   Backend = "bolt"
)

// Data is the field set of a document.
type Data = map[string]any

// DocRef addresses a single document: the resource (collection) it belongs to
// and its id.
type DocRef struct {
	Resource string
	ID       string
}

// Ref returns the reference of document id in resource.
func Ref(resource, id string) DocRef {
	return DocRef{Resource: resource, ID: id}
}

// Path returns the "resource/id" form of the reference.
func (r DocRef) Path() string {
	return r.Resource + "/" + r.ID
}

func (r DocRef) String() string { return r.Path() }

// Validate checks that both parts of the reference are set.
func (r DocRef) Validate() error {
	if r.Resource == "" {
		return Errorf(KindPreconditionFailed, "document reference has no resource")
	}
	if r.ID == "" {
		return Errorf(KindInvalidArgument, "document reference %q has no id", r.Resource)
	}
	return nil
}

// ParseRef parses a "resource/id" path.
func ParseRef(path string) (DocRef, error) {
	resource, id, ok := strings.Cut(path, "/")
	if !ok {
		return DocRef{}, Errorf(KindInvalidArgument, "malformed document path %q", path)
	}
	ref := DocRef{Resource: resource, ID: id}
	return ref, ref.Validate()
}

// Snapshot is the result of reading a document. Data is nil when the document
// does not exist.
type Snapshot struct {
	Ref        DocRef
	Data       Data
	Exists     bool
	CreateTime time.Time
	UpdateTime time.Time
}

// TxOptions configures RunTransaction.
type TxOptions struct {
	// MaxAttempts is the number of times the transaction function is executed
	// before contention is reported to the caller. Values below 1 mean 1.
	MaxAttempts int
}

// TxFunc is the body of a transaction. It is executed once per attempt and
// must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the transaction scoped handle passed to a TxFunc. All reads must be
// issued before the first write; writes are buffered and committed
// atomically when the TxFunc returns nil.
type Tx interface {
	GetAll(ctx context.Context, refs ...DocRef) ([]Snapshot, error)
	Create(ref DocRef, data Data) error
	Update(ref DocRef, data Data) error
	Set(ref DocRef, data Data) error
	Delete(ref DocRef) error
}

// Store is the document store capability consumed by models and transaction
// handlers.
type Store interface {
	Backend() Backend

	// Get reads a single document. A missing document is reported through
	// Snapshot.Exists, not as an error.
	Get(ctx context.Context, ref DocRef) (Snapshot, error)

	// BatchGet reads several documents; the result has the order of refs.
	BatchGet(ctx context.Context, refs []DocRef) ([]Snapshot, error)

	// Create writes a new document and fails with CodeAlreadyExists when it
	// exists.
	Create(ctx context.Context, ref DocRef, data Data) error

	// Update merges data into an existing document and fails with
	// CodeNotFound when it does not exist.
	Update(ctx context.Context, ref DocRef, data Data) error

	// Set replaces the document, creating it when missing.
	Set(ctx context.Context, ref DocRef, data Data) error

	// Delete removes the document. Deleting a missing document succeeds.
	Delete(ctx context.Context, ref DocRef) error

	// RunTransaction executes fn atomically, retrying on contention up to
	// opts.MaxAttempts times.
	RunTransaction(ctx context.Context, fn TxFunc, opts TxOptions) error
}
