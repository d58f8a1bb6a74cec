package kvstore

import (
	"context"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleStore keeps values in an embedded Pebble LSM. Writes are synced to the
// WAL before Put returns.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = &PebbleStore{}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pebble kv store: empty directory")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "pebble kv store: open %s", dir)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "pebble kv store: get %q", key)
	}
	defer func() { _ = closer.Close() }()
	return append([]byte(nil), v...), nil
}

func (s *PebbleStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return errors.Wrapf(err, "pebble kv store: put %q", key)
	}
	return nil
}

func (s *PebbleStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = prefixUpperBound([]byte(prefix))
	}
	it, err := s.db.NewIter(opts)
	if err != nil {
		return nil, errors.Wrap(err, "pebble kv store: iterator")
	}
	out := []string{}
	for it.First(); it.Valid(); it.Next() {
		out = append(out, string(it.Key()))
	}
	if err := it.Close(); err != nil {
		return nil, errors.Wrap(err, "pebble kv store: iterate")
	}
	return out, nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
