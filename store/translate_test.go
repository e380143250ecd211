package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jacentio/trellis-odm/store"
)

func newObservedTranslator(benign ...store.ErrorKind) (*store.Translator, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return store.NewTranslator(zap.New(core), benign...), logs
}

func TestTranslate_ProviderCodes(t *testing.T) {
	tests := []struct {
		code int
		kind store.ErrorKind
	}{
		{1, store.KindCancelled},
		{2, store.KindUnknown},
		{3, store.KindInvalidArgument},
		{4, store.KindDeadlineExceeded},
		{5, store.KindNotFound},
		{6, store.KindAlreadyExists},
		{7, store.KindPermissionDenied},
		{8, store.KindResourceExhausted},
		{9, store.KindPreconditionFailed},
		{10, store.KindAborted},
		{11, store.KindOutOfRange},
		{12, store.KindUnimplemented},
		{13, store.KindInternal},
		{14, store.KindUnavailable},
		{15, store.KindDataLoss},
		{16, store.KindUnauthorized},
		{17, store.KindInternal},
		{999, store.KindInternal},
		{-3, store.KindInternal},
	}

	tr := store.NewTranslator(nil)
	for _, tt := range tests {
		t.Run(fmt.Sprintf("code %d", tt.code), func(t *testing.T) {
			err := tr.Translate(&store.ProviderError{Code: tt.code, Details: "X"})
			assert.Equal(t, tt.kind, store.KindOf(err))

			var e *store.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "X", e.Msg)
			assert.Equal(t, tt.code, e.ProviderCode)
		})
	}
}

func TestTranslate_NotFoundCarriesDetails(t *testing.T) {
	err := store.NewTranslator(nil).Translate(&store.ProviderError{Code: 5, Details: "X"})

	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "trellis: X", err.Error())
}

func TestTranslate_MalformedErrors(t *testing.T) {
	tr := store.NewTranslator(nil)

	t.Run("no code", func(t *testing.T) {
		err := tr.Translate(errors.New("boom"))
		assert.Equal(t, store.KindUnknown, store.KindOf(err))
	})

	t.Run("code zero", func(t *testing.T) {
		err := tr.Translate(&store.ProviderError{Code: 0, Details: "ok?"})
		assert.Equal(t, store.KindUnknown, store.KindOf(err))
	})

	t.Run("empty details", func(t *testing.T) {
		err := tr.Translate(&store.ProviderError{Code: 13})
		var e *store.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "unknown error", e.Msg)
	})

	t.Run("wrapped provider error", func(t *testing.T) {
		err := tr.Translate(fmt.Errorf("commit: %w", &store.ProviderError{Code: 6, Details: "dup"}))
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})
}

func TestTranslate_ContextErrors(t *testing.T) {
	tr := store.NewTranslator(nil)

	assert.Equal(t, store.KindCancelled, store.KindOf(tr.Translate(context.Canceled)))
	assert.Equal(t, store.KindDeadlineExceeded, store.KindOf(tr.Translate(context.DeadlineExceeded)))
}

func TestTranslate_Idempotent(t *testing.T) {
	tr := store.NewTranslator(nil)

	benign := store.Errorf(store.KindNotFound, "missing")
	assert.Same(t, benign, tr.Translate(benign))

	tagged := store.Errorf(store.KindPreconditionFailed, "resource missing")
	again := tr.Translate(tagged)
	assert.Equal(t, store.KindPreconditionFailed, store.KindOf(again))
	assert.Equal(t, tagged.Error(), again.Error())
	assert.Same(t, again, tr.Translate(again))

	once := tr.Translate(&store.ProviderError{Code: 7, Details: "denied"})
	assert.Equal(t, once, tr.Translate(once))
}

func TestTranslate_PreservesCause(t *testing.T) {
	cause := &store.ProviderError{Code: 14, Details: "try later"}
	err := store.NewTranslator(nil).Translate(cause)

	var perr *store.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Same(t, cause, perr)
}

func TestTranslate_Nil(t *testing.T) {
	assert.NoError(t, store.NewTranslator(nil).Translate(nil))
}

func TestTranslate_LogsOnlyUnexpectedKinds(t *testing.T) {
	tr, logs := newObservedTranslator()

	for _, code := range []int{1, 5, 6} {
		_ = tr.Translate(&store.ProviderError{Code: code, Details: "benign"})
	}
	assert.Equal(t, 0, logs.Len())

	_ = tr.Translate(&store.ProviderError{Code: 13, Details: "disk on fire"})
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "storeInternal", fields["event"])
	assert.Equal(t, int64(13), fields["providerCode"])
	assert.Equal(t, "disk on fire", fields["details"])
	assert.Contains(t, fields, "original")
}

func TestTranslate_LogsOnce(t *testing.T) {
	tr, logs := newObservedTranslator()

	err := tr.Translate(&store.ProviderError{Code: 8, Details: "throttled"})
	_ = tr.Translate(err)
	_ = tr.Translate(fmt.Errorf("again: %w", err))

	assert.Equal(t, 1, logs.Len())
}

func TestTranslate_SentinelsAreNotModified(t *testing.T) {
	tr, logs := newObservedTranslator()

	first := tr.Translate(store.ErrAborted)
	second := tr.Translate(store.ErrAborted)

	assert.Equal(t, 2, logs.Len())
	assert.NotSame(t, store.ErrAborted, first)
	assert.ErrorIs(t, first, store.ErrAborted)
	assert.ErrorIs(t, second, store.ErrAborted)

	_ = tr.Translate(first)
	assert.Equal(t, 2, logs.Len())
}

func TestTranslate_ConfigurableBenignKinds(t *testing.T) {
	tr, logs := newObservedTranslator(store.KindAborted)

	_ = tr.Translate(&store.ProviderError{Code: 10, Details: "contention"})
	assert.Equal(t, 0, logs.Len())

	_ = tr.Translate(&store.ProviderError{Code: 5, Details: "missing"})
	assert.Equal(t, 1, logs.Len())
	assert.True(t, tr.Benign(store.KindAborted))
	assert.False(t, tr.Benign(store.KindNotFound))
}

func TestTranslate_NilTranslator(t *testing.T) {
	var tr *store.Translator
	err := tr.Translate(&store.ProviderError{Code: 5, Details: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestErrorIs_MatchesByKind(t *testing.T) {
	err := store.Errorf(store.KindNotFound, "Following document ids not found: a b")

	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NotErrorIs(t, err, store.ErrAlreadyExists)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), store.ErrNotFound)
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "not found", store.KindNotFound.String())
	assert.Equal(t, "kind(99)", store.ErrorKind(99).String())
	assert.Equal(t, "trellis: precondition failed", (&store.Error{Kind: store.KindPreconditionFailed}).Error())
}
