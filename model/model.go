// Package model binds schema-validated documents to a resource in a
// store.Store and, optionally, to a search Mirror.
//
// A Model is built once from a Config and carries every collaborator it
// needs: the store, the mirror, the analytics sink and the error translator.
// Instances are created with Construct (new documents) or loaded through
// Get/BatchGet, mutated in memory with Assign, Replace and RemoveProps, and
// persisted with Create, Update and Set. Each write runs the configured
// hooks, validates the document and refreshes its timestamps before any I/O.
package model

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/store"
)

// Hook runs before a write. It may mutate the instance; a non-nil error
// aborts the write and is returned to the caller unchanged.
type Hook func(ctx context.Context, inst *Instance) error

// Hooks are the optional lifecycle hooks of a model. Before every write the
// operation specific hook runs first, then BeforeSave.
type Hooks struct {
	BeforeCreate Hook
	BeforeUpdate Hook
	BeforeSet    Hook
	BeforeSave   Hook
}

// Config declares a model.
type Config struct {
	// Resource is the collection the model is stored in. Every store or
	// mirror operation fails with store.ErrPreconditionFailed when empty.
	Resource string

	// Fields declares the document schema.
	Fields Fields

	// DefaultMask overrides the fields exposed when no mask is given.
	// Default: id, every whitelisted field, createdAt, updatedAt.
	DefaultMask []string

	Hooks Hooks

	// Mirror is the optional search index kept next to the store.
	Mirror Mirror
}

// Model is a validated model declaration bound to its collaborators.
type Model struct {
	resource    string
	fields      Fields
	defaultMask []string
	hooks       Hooks
	mirror      Mirror

	store      store.Store
	analytics  *analytics.Sink
	translator *store.Translator
	clock      clock.Clock
	newID      func() string
	logger     *zap.Logger

	mirrorRetries    int
	mirrorRetryDelay time.Duration
}

// Option configures a Model.
type Option func(*Model)

// WithAnalytics records every store operation of the model in sink.
func WithAnalytics(sink *analytics.Sink) Option {
	return func(m *Model) { m.analytics = sink }
}

// WithTranslator sets the translator applied to store and mirror errors.
func WithTranslator(t *store.Translator) Option {
	return func(m *Model) { m.translator = t }
}

// WithClock sets the clock used for document timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Model) { m.clock = c }
}

// WithIDGenerator sets the generator of ids for new documents.
func WithIDGenerator(fn func() string) Option {
	return func(m *Model) { m.newID = fn }
}

// WithLogger sets the logger of the model.
func WithLogger(l *zap.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithMirrorRetry configures how often, and how far apart, a mirror read
// of a missing document is retried before NotFound is returned.
// Default: 3 retries, one second apart.
func WithMirrorRetry(retries int, delay time.Duration) Option {
	return func(m *Model) {
		m.mirrorRetries = retries
		m.mirrorRetryDelay = delay
	}
}

// New validates cfg and returns the model. st may be nil for mirror only
// models.
func New(cfg Config, st store.Store, opts ...Option) (*Model, error) {
	if err := ValidateFields(cfg.Fields); err != nil {
		return nil, err
	}
	m := &Model{
		resource:         cfg.Resource,
		fields:           cfg.Fields,
		hooks:            cfg.Hooks,
		mirror:           cfg.Mirror,
		store:            st,
		clock:            clock.New(),
		newID:            uuid.NewString,
		logger:           zap.NewNop(),
		mirrorRetries:    3,
		mirrorRetryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.translator == nil {
		m.translator = store.NewTranslator(m.logger)
	}
	m.defaultMask = cfg.DefaultMask
	if len(m.defaultMask) == 0 {
		m.defaultMask = defaultMask(cfg.Fields)
	}
	return m, nil
}

// Resource returns the collection of the model.
func (m *Model) Resource() string { return m.resource }

// Backend returns the backend of the model's store, or "" when the model
// has no store.
func (m *Model) Backend() store.Backend {
	if m.store == nil {
		return ""
	}
	return m.store.Backend()
}

// Mirror returns the mirror of the model, or nil.
func (m *Model) Mirror() Mirror { return m.mirror }

// Fields returns the declared fields.
func (m *Model) Fields() Fields { return m.fields }

// Ref returns the store reference of document id.
func (m *Model) Ref(id string) store.DocRef {
	return store.Ref(m.resource, id)
}

// CheckResource fails with store.ErrPreconditionFailed when the model has
// no resource.
func (m *Model) CheckResource() error {
	if m.resource == "" {
		return store.Errorf(store.KindPreconditionFailed, "Model should have resource name to specify collection!")
	}
	return nil
}

func (m *Model) checkStore() error {
	if err := m.CheckResource(); err != nil {
		return err
	}
	if m.store == nil {
		return store.Errorf(store.KindPreconditionFailed, "model %q has no store", m.resource)
	}
	return nil
}

func (m *Model) checkMirror() error {
	if err := m.CheckResource(); err != nil {
		return err
	}
	if m.mirror == nil {
		return store.Errorf(store.KindPreconditionFailed, "model %q has no mirror", m.resource)
	}
	return nil
}

func (m *Model) timestamp() string {
	return m.clock.Now().UTC().Format(time.RFC3339)
}
