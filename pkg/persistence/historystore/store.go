// Package historystore persists thread histories and their metadata records on
// top of a kvstore.Store.
//
// Layout:
//   - history/<threadID> holds the whole message sequence as a JSON array and is
//     rewritten on every save.
//   - thread/<threadID> holds a ThreadInfo record; listing threads enumerates
//     this namespace.
package historystore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/persistence/kvstore"
)

const (
	historyPrefix = "history/"
	threadPrefix  = "thread/"
)

// ThreadInfo is the per-thread metadata record.
type ThreadInfo struct {
	ThreadID     string `json:"thread_id"`
	CreatedAtMs  int64  `json:"created_at_ms"`
	UpdatedAtMs  int64  `json:"updated_at_ms"`
	MessageCount int    `json:"message_count"`
}

type Store struct {
	kv           kvstore.Store
	retries      uint64
	retryBackoff time.Duration
	now          func() time.Time
}

type Option func(*Store)

// WithRetry sets how many times a failed write is retried and the initial
// backoff between attempts (grows exponentially).
func WithRetry(retries int, initial time.Duration) Option {
	return func(s *Store) {
		if retries < 0 {
			retries = 0
		}
		s.retries = uint64(retries)
		if initial > 0 {
			s.retryBackoff = initial
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(kv kvstore.Store, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("history store: kv store is nil")
	}
	s := &Store{
		kv:           kv,
		retries:      3,
		retryBackoff: 100 * time.Millisecond,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func HistoryKey(threadID string) string { return historyPrefix + threadID }
func ThreadKey(threadID string) string  { return threadPrefix + threadID }

// Load returns the persisted history of threadID, or an empty history when the
// thread has never been saved.
func (s *Store) Load(ctx context.Context, threadID string) ([]chat.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("history store: threadID is empty")
	}
	raw, err := s.kv.Get(ctx, HistoryKey(threadID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return []chat.Message{}, nil
		}
		return nil, errors.Wrapf(err, "history store: load %s", threadID)
	}
	msgs := []chat.Message{}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, errors.Wrapf(err, "history store: decode %s", threadID)
	}
	return msgs, nil
}

// Save rewrites the whole history of threadID, then refreshes its metadata
// record. Saving an unchanged history rewrites identical bytes and leaves the
// metadata record untouched.
func (s *Store) Save(ctx context.Context, threadID string, history []chat.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("history store: threadID is empty")
	}
	payload, err := json.Marshal(chat.CloneMessages(history))
	if err != nil {
		return errors.Wrap(err, "history store: encode history")
	}
	if err := s.put(ctx, HistoryKey(threadID), payload); err != nil {
		return errors.Wrapf(err, "history store: save %s", threadID)
	}

	info, ok, err := s.Info(ctx, threadID)
	if err != nil {
		return err
	}
	if ok && info.MessageCount == len(history) {
		return nil
	}
	nowMs := s.now().UnixMilli()
	if !ok {
		info = ThreadInfo{ThreadID: threadID, CreatedAtMs: nowMs}
	}
	info.UpdatedAtMs = nowMs
	info.MessageCount = len(history)
	meta, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "history store: encode thread info")
	}
	if err := s.put(ctx, ThreadKey(threadID), meta); err != nil {
		return errors.Wrapf(err, "history store: save thread info %s", threadID)
	}
	return nil
}

// Info returns the metadata record for threadID.
func (s *Store) Info(ctx context.Context, threadID string) (ThreadInfo, bool, error) {
	raw, err := s.kv.Get(ctx, ThreadKey(threadID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return ThreadInfo{}, false, nil
		}
		return ThreadInfo{}, false, errors.Wrapf(err, "history store: load thread info %s", threadID)
	}
	var info ThreadInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ThreadInfo{}, false, errors.Wrapf(err, "history store: decode thread info %s", threadID)
	}
	return info, true, nil
}

// ListThreads returns the IDs of every thread with a metadata record, sorted.
func (s *Store) ListThreads(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, threadPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "history store: list threads")
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, threadPrefix))
	}
	return out, nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBackoff
	b.MaxElapsedTime = 0
	op := func() error {
		err := s.kv.Put(ctx, key, value)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("component", "historystore").Str("key", key).Dur("retry_in", next).Msg("kv write failed, retrying")
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx), notify)
}
