package model

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/store"
)

// Mirror is a search index kept in sync with the store. It is never
// authoritative: writes land in the store first and are copied to the
// mirror, either directly (OnMirror) or by the stream handler.
//
// Implementations report a missing document with an error matching
// store.ErrNotFound or a *store.ProviderError with code
// store.CodeNotFound.
type Mirror interface {
	Get(ctx context.Context, id string) (store.Data, error)

	// MultiGet returns one entry per id, in order; missing documents are nil.
	MultiGet(ctx context.Context, ids []string) ([]store.Data, error)

	Create(ctx context.Context, id string, data store.Data) error
	Update(ctx context.Context, id string, data store.Data) error
	Index(ctx context.Context, id string, data store.Data) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query any) (SearchResult, error)
}

// SearchResult is the outcome of a mirror search.
type SearchResult struct {
	Hits  []store.Data
	Total int
}

func isNotFound(err error) bool {
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	var perr *store.ProviderError
	return errors.As(err, &perr) && perr.Code == store.CodeNotFound
}

// mirrorGet reads id from the mirror. Indexing is asynchronous, so a
// missing document is retried before NotFound is returned.
func (m *Model) mirrorGet(ctx context.Context, id string) (store.Data, error) {
	retries := m.mirrorRetries
	if retries < 0 {
		retries = 0
	}
	b := retry.WithMaxRetries(uint64(retries), retry.NewConstant(m.mirrorRetryDelay))

	var data store.Data
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		d, err := m.mirror.Get(ctx, id)
		if isNotFound(err) {
			m.logger.Debug("mirror document not found",
				zap.String("resource", m.resource),
				zap.String("id", id),
			)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if isNotFound(err) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, m.translator.Translate(err)
	}
	return data, nil
}

func (m *Model) mirrorWrite(ctx context.Context, op WriteOp, inst *Instance) error {
	var err error
	switch op {
	case OpCreate:
		err = m.mirror.Create(ctx, inst.id, inst.Data())
	case OpUpdate:
		err = m.mirror.Update(ctx, inst.id, inst.Data())
	case OpSet:
		err = m.mirror.Index(ctx, inst.id, inst.Data())
	}
	return m.translator.Translate(err)
}

// Search queries the mirror and projects the hits through the mask given
// with WithMask.
func (m *Model) Search(ctx context.Context, query any, opts ...CallOption) (SearchResult, error) {
	o := callOpts(opts)
	if err := m.checkMirror(); err != nil {
		return SearchResult{}, err
	}
	res, err := m.mirror.Search(ctx, query)
	if err != nil {
		return SearchResult{}, m.translator.Translate(err)
	}
	return SearchResult{Hits: m.ProjectHits(res.Hits, o.mask), Total: res.Total}, nil
}
