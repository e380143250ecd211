// Package bolt implements store.Store on top of an embedded bbolt database.
//
// Each resource is a top level bucket keyed by document id. Documents are
// stored as JSON envelopes carrying the data and its create/update times.
// bbolt serializes read-write transactions, so RunTransaction never sees
// contention from other writers of the same file.
package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/store"
)

// Store is a store.Store backed by boltdb.
type Store struct {
	path   string
	db     *bolt.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore returns an instance of Store with the file at the provided path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// Open creates the boltDB file if it doesn't exist and opens it otherwise.
func (s *Store) Open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("unable to create directory %s: %v", s.path, err)
	}

	if _, err := os.Stat(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("unable to open boltdb file %v", err)
	}
	s.db = db

	s.logger.Info("Resources opened", zap.String("path", s.path))
	return nil
}

// Close the connection to the bolt database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithLogger sets the logger on the store.
func (s *Store) WithLogger(l *zap.Logger) {
	s.logger = l
}

// WithDB sets the boltdb on the store.
func (s *Store) WithDB(db *bolt.DB) {
	s.db = db
}

// Backend implements store.Store.
func (s *Store) Backend() store.Backend { return store.BackendBolt }

// Resources returns the names of every resource holding documents.
func (s *Store) Resources(ctx context.Context) ([]string, error) {
	var names []string
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return errNotOpen
	}
	return mapError(s.db.View(fn))
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return errNotOpen
	}
	return mapError(s.db.Update(fn))
}
