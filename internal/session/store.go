package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicware/medibot/pkg/logging"
)

const (
	defaultTTL             = 7 * 24 * time.Hour
	defaultRecentMax       = 5
	defaultSnapshotTimeout = 5 * time.Second
)

// SnapshotStore persists durable session copies that survive cache eviction.
type SnapshotStore interface {
	Save(ctx context.Context, sess *Session) error
	// Load returns (nil, nil) when no snapshot exists.
	Load(ctx context.Context, conversationID string) (*Session, error)
}

// Store is the session cache. Reads and writes extend the TTL (sliding
// window); every update schedules a fire-and-forget durable snapshot.
type Store struct {
	redis           *redis.Client
	snapshots       SnapshotStore
	ttl             time.Duration
	recentMax       int
	snapshotTimeout time.Duration
	tracer          trace.Tracer
	logger          *logging.Logger

	wg sync.WaitGroup
}

// Option customizes a Store.
type Option func(*Store)

// WithTTL overrides the sliding-window TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRecentTurns overrides the bounded recent-turn window size.
func WithRecentTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.recentMax = n
		}
	}
}

// WithSnapshotTimeout bounds the async snapshot write.
func WithSnapshotTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.snapshotTimeout = d
		}
	}
}

// NewStore builds a session store. snapshots may be nil, in which case
// sessions do not survive cache eviction.
func NewStore(redisClient *redis.Client, snapshots SnapshotStore, logger *logging.Logger, opts ...Option) *Store {
	if redisClient == nil {
		panic("session: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		redis:           redisClient,
		snapshots:       snapshots,
		ttl:             defaultTTL,
		recentMax:       defaultRecentMax,
		snapshotTimeout: defaultSnapshotTimeout,
		tracer:          otel.Tracer("medibot.internal.session"),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the session for conversationID, extending its TTL on a cache
// hit. On a miss it attempts rehydration from the durable snapshot,
// repopulating the cache with a full TTL. Returns (nil, nil) when the
// session is absent everywhere.
func (s *Store) Get(ctx context.Context, conversationID string) (*Session, error) {
	if conversationID == "" {
		return nil, errors.New("session: conversationID required")
	}
	ctx, span := s.tracer.Start(ctx, "session.get")
	defer span.End()

	sess, err := s.getCached(ctx, conversationID, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	if s.snapshots == nil {
		return nil, nil
	}
	sess, err = s.snapshots.Load(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: rehydrate %s: %w", conversationID, err)
	}
	if sess == nil {
		return nil, nil
	}

	if err := s.writeCache(ctx, sess); err != nil {
		// The snapshot copy is still usable; a cache write failure only
		// costs the next read another rehydration.
		s.logger.Warn("failed to repopulate session cache", "error", err, "conversation_id", conversationID)
	}
	return sess, nil
}

// Update merges the partial update into the freshest known state (cache
// first, snapshot only when the cache is empty), writes back with a full
// TTL, and schedules an async durable snapshot. The merged session is
// returned; snapshot failures are logged, never surfaced.
func (s *Store) Update(ctx context.Context, conversationID string, update Update) (*Session, error) {
	if conversationID == "" {
		return nil, errors.New("session: conversationID required")
	}
	ctx, span := s.tracer.Start(ctx, "session.update")
	defer span.End()

	now := time.Now().UTC()

	sess, err := s.getCached(ctx, conversationID, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sess == nil && s.snapshots != nil {
		sess, err = s.snapshots.Load(ctx, conversationID)
		if err != nil {
			s.logger.Warn("snapshot load failed during update, starting fresh", "error", err, "conversation_id", conversationID)
			sess = nil
		}
	}
	if sess == nil {
		sess = &Session{ConversationID: conversationID, CreatedAt: now}
	}

	sess.apply(update, s.recentMax)
	sess.UpdatedAt = now

	if err := s.writeCache(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.scheduleSnapshot(sess)
	return sess, nil
}

// Delete evicts the session from the fast cache only; the durable snapshot
// is retained for history.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("session: conversationID required")
	}
	ctx, span := s.tracer.Start(ctx, "session.delete")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: delete %s: %w", conversationID, err)
	}
	return nil
}

// Flush blocks until all in-flight snapshot writes have finished. Intended
// for graceful shutdown and tests.
func (s *Store) Flush() {
	s.wg.Wait()
}

func (s *Store) getCached(ctx context.Context, conversationID string, extendTTL bool) (*Session, error) {
	key := sessionKey(conversationID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read cache %s: %w", conversationID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decode cached session %s: %w", conversationID, err)
	}

	if extendTTL {
		if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
			s.logger.Warn("failed to extend session TTL", "error", err, "conversation_id", conversationID)
		}
	}
	return &sess, nil
}

func (s *Store) writeCache(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode session %s: %w", sess.ConversationID, err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ConversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: write cache %s: %w", sess.ConversationID, err)
	}
	return nil
}

func (s *Store) scheduleSnapshot(sess *Session) {
	if s.snapshots == nil {
		return
	}
	copied := *sess
	copied.RecentTurns = append([]Turn(nil), sess.RecentTurns...)
	if sess.Attributes != nil {
		copied.Attributes = make(map[string]string, len(sess.Attributes))
		for k, v := range sess.Attributes {
			copied.Attributes[k] = v
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.snapshotTimeout)
		defer cancel()
		if err := s.snapshots.Save(ctx, &copied); err != nil {
			s.logger.Error("session snapshot write failed", "error", err, "conversation_id", copied.ConversationID)
		}
	}()
}

func sessionKey(conversationID string) string {
	return "session:" + conversationID
}
