package txn_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/model"
	"github.com/jacentio/trellis-odm/store"
	"github.com/jacentio/trellis-odm/store/bolt"
)

func accountFields() model.Fields {
	return model.Fields{
		"name":    {Schema: &model.Schema{Type: model.TypeString, Required: true, Rules: "min=1"}, WhiteList: true},
		"balance": {Schema: &model.Schema{Type: model.TypeNumber}},
	}
}

// flakyStore reports contention for the first conflicts attempts, after
// the transaction function ran.
type flakyStore struct {
	*bolt.Store
	conflicts int
	attempts  int
}

func (f *flakyStore) RunTransaction(ctx context.Context, fn store.TxFunc, opts store.TxOptions) error {
	return f.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		f.attempts++
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if f.attempts <= f.conflicts {
			return &store.ProviderError{Code: store.CodeAborted, Details: "transaction conflict"}
		}
		return nil
	}, opts)
}

type env struct {
	store    *flakyStore
	sink     *analytics.Sink
	accounts *model.Model
}

func newEnv(t *testing.T, hooks model.Hooks) *env {
	t.Helper()
	store.RetryBackoff = time.Millisecond

	db := bolt.NewStore(filepath.Join(t.TempDir(), "txn.db"))
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		store: &flakyStore{Store: db},
		sink:  analytics.NewSink(),
	}
	m, err := model.New(model.Config{
		Resource: "accounts",
		Fields:   accountFields(),
		Hooks:    hooks,
	}, db)
	require.NoError(t, err)
	e.accounts = m
	return e
}

func (e *env) seed(t *testing.T, id, name string, balance int) {
	t.Helper()
	inst, err := e.accounts.Construct(store.Data{"name": name}, id)
	require.NoError(t, err)
	inst.Put("balance", balance)
	_, err = inst.Create(context.Background())
	require.NoError(t, err)
}

func (e *env) load(t *testing.T, id string) store.Data {
	t.Helper()
	doc, found, err := e.accounts.TryFind(context.Background(), id, model.WithMask(model.All()))
	require.NoError(t, err)
	if !found {
		return nil
	}
	return doc
}
