package kvstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisNamespace is prepended to every key when no namespace is given.
const DefaultRedisNamespace = "chatrelay:"

// RedisStore keeps values as plain redis strings under a namespace prefix.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

var _ Store = &RedisStore{}

func NewRedisStore(addr, namespace string) (*RedisStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis kv store: empty address")
	}
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), namespace), nil
}

func NewRedisStoreFromClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "redis kv store: get %q", key)
	}
	return v, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis kv store: put %q", key)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeRedisGlob(s.namespace+prefix) + "*"
	out := []string{}
	seen := map[string]struct{}{}
	// SCAN may return a key more than once.
	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), s.namespace)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis kv store: scan")
	}
	return sortedKeys(out), nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func escapeRedisGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
