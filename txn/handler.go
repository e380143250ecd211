// Package txn queues reads and writes of model instances and executes them
// as one atomic store transaction.
//
// A Handler resolves every queued read before any write is applied, hands
// the loaded instances to a continuation that registers writes, and then
// applies all writes in the order they were queued. The whole function is
// retried on contention; analytics are only recorded once the commit
// succeeded.
//
//	h := txn.New(st, txn.WithAnalytics(sink))
//	_ = h.QueueToGet(accounts, "a1")
//	_ = h.QueueToGet(accounts, "a2")
//	_ = h.GetAll(func(ctx context.Context, insts []*model.Instance) error {
//		if _, err := insts[0].Assign(store.Data{"balance": 0}); err != nil {
//			return err
//		}
//		return h.Update(insts[0])
//	})
//	results, err := h.Run(ctx, 5)
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/model"
	"github.com/jacentio/trellis-odm/store"
)

// State is the lifecycle state of a Handler.
type State int

const (
	StateEmpty State = iota
	StateQueuingReads
	StateQueuingWrites
	StateBuilt
	StateCommitting
	StateCommitted
	StateFailed
)

var stateNames = [...]string{"empty", "queuing reads", "queuing writes", "built", "committing", "committed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Continuation receives the instances loaded by the read phase, in the order
// they were queued. It registers writes on the same Handler and is executed
// once per attempt, so it must not have side effects outside the
// transaction.
type Continuation func(ctx context.Context, insts []*model.Instance) error

type actionKind int

const (
	actionCreate actionKind = iota
	actionUpdate
	actionSet
	actionDelete
)

var actionOps = map[actionKind]analytics.Operation{
	actionCreate: analytics.OpTransactionCreate,
	actionUpdate: analytics.OpTransactionUpdate,
	actionSet:    analytics.OpTransactionSet,
	actionDelete: analytics.OpTransactionDelete,
}

var writeOps = map[actionKind]model.WriteOp{
	actionCreate: model.OpCreate,
	actionUpdate: model.OpUpdate,
	actionSet:    model.OpSet,
}

type action struct {
	kind actionKind
	inst *model.Instance
	ref  store.DocRef
}

// hookError carries a lifecycle hook failure through the store untranslated.
type hookError struct {
	err error
}

func (e *hookError) Error() string { return e.err.Error() }
func (e *hookError) Unwrap() error { return e.err }

type pendingRead struct {
	model *model.Model
	id    string
}

// Result is the outcome of one queued write, in queue order.
type Result struct {
	Ref store.DocRef

	// Instance is the written instance; nil for deletes.
	Instance *model.Instance

	// Doc is the written document projected through the handler mask; nil
	// for deletes.
	Doc store.Data

	// Deleted is true for deletes.
	Deleted bool
}

// Handler is a single-use transaction batch. It is not safe for concurrent
// use. A committed or failed handler must be cleared before it is reused.
type Handler struct {
	store      store.Store
	analytics  *analytics.Sink
	translator *store.Translator
	mask       model.Mask
	logger     *zap.Logger

	state   State
	reads   []pendingRead
	actions []action
	cont    Continuation
}

// Option configures a Handler.
type Option func(*Handler)

// WithAnalytics records committed operations in sink.
func WithAnalytics(sink *analytics.Sink) Option {
	return func(h *Handler) { h.analytics = sink }
}

// WithTranslator sets the translator applied to transaction errors.
func WithTranslator(t *store.Translator) Option {
	return func(h *Handler) { h.translator = t }
}

// WithMask sets the mask applied to the documents of Result.
func WithMask(mask model.Mask) Option {
	return func(h *Handler) { h.mask = mask }
}

// WithLogger sets the logger of the handler.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New returns an empty Handler executing against st.
func New(st store.Store, opts ...Option) *Handler {
	h := &Handler{
		store:  st,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.translator == nil {
		h.translator = store.NewTranslator(h.logger)
	}
	return h
}

// State returns the current state.
func (h *Handler) State() State { return h.state }

// Clear discards every queued read and write and returns the handler to
// StateEmpty.
func (h *Handler) Clear() {
	h.state = StateEmpty
	h.reads = nil
	h.actions = nil
	h.cont = nil
}

// QueueToGet queues a read of document id of m.
func (h *Handler) QueueToGet(m *model.Model, id string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if h.cont != nil {
		return store.Errorf(store.KindPreconditionFailed, "reads can not be queued after GetAll")
	}
	if err := h.checkModel(m); err != nil {
		return err
	}
	if id == "" {
		return store.Errorf(store.KindInvalidArgument, "Id should be a non empty string!")
	}
	h.reads = append(h.reads, pendingRead{model: m, id: id})
	if h.state == StateEmpty {
		h.state = StateQueuingReads
	}
	return nil
}

// GetAll closes the read phase. On execution the queued documents are read
// in one batch and passed to cont; a missing document fails the whole
// transaction with store.ErrNotFound naming every missing id.
func (h *Handler) GetAll(cont Continuation) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if len(h.reads) == 0 {
		return store.Errorf(store.KindPreconditionFailed, "there is no queued get operation")
	}
	if h.cont != nil {
		return store.Errorf(store.KindPreconditionFailed, "GetAll can only be called once")
	}
	if cont == nil {
		cont = func(context.Context, []*model.Instance) error { return nil }
	}
	h.cont = cont
	h.state = StateBuilt
	return nil
}

// Create queues the creation of inst. Hooks run at commit time.
func (h *Handler) Create(inst *model.Instance) error {
	return h.add(actionCreate, inst)
}

// Update queues a merge of inst into its stored document. It fails when
// fields were removed from inst since its last full write.
func (h *Handler) Update(inst *model.Instance) error {
	if inst != nil {
		if err := inst.CanUpdate(); err != nil {
			return err
		}
	}
	return h.add(actionUpdate, inst)
}

// Set queues a full write of inst.
func (h *Handler) Set(inst *model.Instance) error {
	return h.add(actionSet, inst)
}

// Delete queues the deletion of ref.
func (h *Handler) Delete(ref store.DocRef) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	h.actions = append(h.actions, action{kind: actionDelete, ref: ref})
	h.queuedWrite()
	return nil
}

func (h *Handler) add(kind actionKind, inst *model.Instance) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if inst == nil {
		return store.Errorf(store.KindInvalidArgument, "instance is required")
	}
	if err := h.checkModel(inst.Model()); err != nil {
		return err
	}
	h.actions = append(h.actions, action{kind: kind, inst: inst, ref: inst.Ref()})
	h.queuedWrite()
	return nil
}

func (h *Handler) queuedWrite() {
	if h.state == StateEmpty || h.state == StateQueuingReads {
		h.state = StateQueuingWrites
	}
}

func (h *Handler) checkOpen() error {
	if h.state == StateCommitted || h.state == StateFailed {
		return store.Errorf(store.KindPreconditionFailed, "transaction handler is %s; call Clear before reusing it", h.state)
	}
	return nil
}

func (h *Handler) checkModel(m *model.Model) error {
	if m == nil {
		return store.Errorf(store.KindInvalidArgument, "model is required")
	}
	if h.store == nil || m.Backend() != h.store.Backend() {
		return store.Errorf(store.KindPreconditionFailed, "transaction models must be bound to the handler's store")
	}
	return m.CheckResource()
}

// Run executes the queued batch in one store transaction, attempting it up
// to maxAttempts times on contention. It returns one Result per queued
// write, in queue order.
func (h *Handler) Run(ctx context.Context, maxAttempts int) ([]Result, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	switch {
	case h.state == StateCommitting:
		return nil, store.Errorf(store.KindPreconditionFailed, "transaction is already running")
	case len(h.reads) > 0 && h.cont == nil:
		return nil, store.Errorf(store.KindPreconditionFailed, "queued reads require GetAll before Run")
	case len(h.reads) == 0 && len(h.actions) == 0:
		return nil, store.Errorf(store.KindPreconditionFailed, "there is no queued operation")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	// Writes registered by the continuation are dropped before every
	// attempt and registered again when it runs.
	queued := len(h.actions)
	h.state = StateCommitting
	fn := func(ctx context.Context, tx store.Tx) error {
		h.actions = h.actions[:queued]
		if h.cont != nil {
			insts, err := h.readAll(ctx, tx)
			if err != nil {
				return err
			}
			if err := h.cont(ctx, insts); err != nil {
				return err
			}
		}
		return h.apply(ctx, tx)
	}

	err := h.store.RunTransaction(ctx, fn, store.TxOptions{MaxAttempts: maxAttempts})
	if err != nil {
		h.state = StateFailed
		var he *hookError
		if errors.As(err, &he) {
			return nil, he.err
		}
		return nil, h.translator.Translate(err)
	}
	h.state = StateCommitted

	h.logger.Debug("transaction committed",
		zap.Int("reads", len(h.reads)),
		zap.Int("writes", len(h.actions)),
	)
	h.collectAnalytics()
	return h.results(), nil
}

// readAll reads every queued document. Missing ids are collected so the
// error names all of them.
func (h *Handler) readAll(ctx context.Context, tx store.Tx) ([]*model.Instance, error) {
	refs := make([]store.DocRef, len(h.reads))
	for i, r := range h.reads {
		refs[i] = r.model.Ref(r.id)
	}
	snaps, err := tx.GetAll(ctx, refs...)
	if err != nil {
		return nil, err
	}

	insts := make([]*model.Instance, 0, len(snaps))
	var missing []string
	for i, snap := range snaps {
		if !snap.Exists {
			missing = append(missing, h.reads[i].id)
			continue
		}
		inst, err := h.reads[i].model.FromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	if len(missing) > 0 {
		return nil, store.Errorf(store.KindNotFound, "Following document ids not found: %s", strings.Join(missing, " "))
	}
	return insts, nil
}

// apply registers every queued write on tx in queue order. Lifecycle hooks
// run immediately before their write.
func (h *Handler) apply(ctx context.Context, tx store.Tx) error {
	for _, a := range h.actions {
		if a.kind == actionDelete {
			if err := tx.Delete(a.ref); err != nil {
				return err
			}
			continue
		}

		if err := a.inst.Prepare(ctx, writeOps[a.kind]); err != nil {
			var tagged *store.Error
			if !errors.As(err, &tagged) {
				return &hookError{err: err}
			}
			return err
		}
		var err error
		switch a.kind {
		case actionCreate:
			err = tx.Create(a.ref, a.inst.Data())
		case actionUpdate:
			err = tx.Update(a.ref, a.inst.Data())
		case actionSet:
			err = tx.Set(a.ref, a.inst.Data())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) collectAnalytics() {
	for _, a := range h.actions {
		h.analytics.Add(a.ref.Resource, actionOps[a.kind], a.ref.ID)
	}
	for _, r := range h.reads {
		h.analytics.Add(r.model.Resource(), analytics.OpTransactionGet, r.id)
	}
}

func (h *Handler) results() []Result {
	results := make([]Result, len(h.actions))
	for i, a := range h.actions {
		if a.kind == actionDelete {
			results[i] = Result{Ref: a.ref, Deleted: true}
			continue
		}
		a.inst.Written(writeOps[a.kind])
		results[i] = Result{
			Ref:      a.ref,
			Instance: a.inst,
			Doc:      a.inst.Mask(h.mask),
		}
	}
	return results
}
