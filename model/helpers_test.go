package model_test

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/model"
	"github.com/jacentio/trellis-odm/store"
	"github.com/jacentio/trellis-odm/store/bolt"
)

var testNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

const testStamp = "2024-05-01T10:30:00Z"

func accountFields() model.Fields {
	return model.Fields{
		"name":    {Schema: &model.Schema{Type: model.TypeString, Required: true, Rules: "min=1"}, WhiteList: true},
		"email":   {Schema: &model.Schema{Type: model.TypeString, Rules: "email"}, WhiteList: true},
		"profile": {Schema: &model.Schema{Type: model.TypeMap}, WhiteList: true},
		"balance": {Schema: &model.Schema{Type: model.TypeNumber}},
		"secret":  {Schema: &model.Schema{Type: model.TypeString}},
	}
}

func newBoltStore(t *testing.T) *bolt.Store {
	t.Helper()
	s := bolt.NewStore(filepath.Join(t.TempDir(), "model.db"))
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(testNow)
	return mock
}

type fixture struct {
	model *model.Model
	store *bolt.Store
	sink  *analytics.Sink
	clock *clock.Mock
}

func newFixture(t *testing.T, cfg model.Config, opts ...model.Option) fixture {
	t.Helper()
	if cfg.Resource == "" {
		cfg.Resource = "accounts"
	}
	if cfg.Fields == nil {
		cfg.Fields = accountFields()
	}
	f := fixture{
		store: newBoltStore(t),
		sink:  analytics.NewSink(),
		clock: newMockClock(),
	}
	ids := 0
	opts = append([]model.Option{
		model.WithAnalytics(f.sink),
		model.WithClock(f.clock),
		model.WithIDGenerator(func() string {
			ids++
			return "gen-" + strconv.Itoa(ids)
		}),
		model.WithMirrorRetry(3, time.Millisecond),
	}, opts...)

	m, err := model.New(cfg, f.store, opts...)
	require.NoError(t, err)
	f.model = m
	return f
}

// memMirror is an in-memory Mirror. notFoundReads makes the first reads of
// a document report it missing, like an index that has not refreshed yet.
type memMirror struct {
	mu            sync.Mutex
	docs          map[string]store.Data
	calls         []string
	notFoundReads int
	reads         int
	search        model.SearchResult
}

func newMemMirror() *memMirror {
	return &memMirror{docs: make(map[string]store.Data)}
}

func (m *memMirror) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *memMirror) Get(ctx context.Context, id string) (store.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.reads <= m.notFoundReads {
		return nil, &store.ProviderError{Code: store.CodeNotFound, Details: "index not refreshed"}
	}
	doc, ok := m.docs[id]
	if !ok {
		return nil, &store.ProviderError{Code: store.CodeNotFound, Details: "missing"}
	}
	return doc, nil
}

func (m *memMirror) MultiGet(ctx context.Context, ids []string) ([]store.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Data, len(ids))
	for i, id := range ids {
		out[i] = m.docs[id]
	}
	return out, nil
}

func (m *memMirror) Create(ctx context.Context, id string, data store.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create:" + id)
	if _, ok := m.docs[id]; ok {
		return &store.ProviderError{Code: store.CodeAlreadyExists, Details: "exists"}
	}
	m.docs[id] = data
	return nil
}

func (m *memMirror) Update(ctx context.Context, id string, data store.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("update:" + id)
	doc, ok := m.docs[id]
	if !ok {
		return &store.ProviderError{Code: store.CodeNotFound, Details: "missing"}
	}
	for k, v := range data {
		doc[k] = v
	}
	return nil
}

func (m *memMirror) Index(ctx context.Context, id string, data store.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("index:" + id)
	m.docs[id] = data
	return nil
}

func (m *memMirror) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete:" + id)
	delete(m.docs, id)
	return nil
}

func (m *memMirror) Search(ctx context.Context, query any) (model.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("search")
	return m.search, nil
}
