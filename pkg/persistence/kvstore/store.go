// Package kvstore is the durable key-value substrate behind thread histories.
//
// Every backend offers the same small contract: whole-value Get/Put on string
// keys plus prefix enumeration. Writes are durable once Put returns.
package kvstore

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("kvstore: key not found")

var errStoreClosed = errors.New("kvstore: store is closed")

// Store is implemented by every backend (memory, sqlite, pebble, redis).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Keys returns every key starting with prefix, sorted ascending.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// DSN is a file path for sqlite, a directory for pebble and a key prefix for redis.
	DSN       string
	RedisAddr string
}

// Open builds the backend named by opts.Backend.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		dsn, err := SQLiteDSNForFile(opts.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(dsn)
	case BackendPebble:
		return NewPebbleStore(opts.DSN)
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.DSN)
	default:
		return nil, errors.Errorf("kvstore: unknown backend %q", opts.Backend)
	}
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such bound exists (prefix is all 0xff).
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}
