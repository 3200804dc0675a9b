package jwks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotStored is returned by a KeySetStore that has no document for an issuer.
var ErrNotStored = errors.New("jwks: no stored document")

// KeySetStore persists the last JWKS document that was fetched successfully,
// so that a restarted loader can serve keys while its endpoint is down.
type KeySetStore interface {
	Save(ctx context.Context, issuer string, document []byte) error
	Load(ctx context.Context, issuer string) ([]byte, error)
}

// MemoryStore is a process-local KeySetStore.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]byte{}}
}

func (s *MemoryStore) Save(_ context.Context, issuer string, document []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[issuer] = append([]byte(nil), document...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, issuer string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[issuer]
	if !ok {
		return nil, ErrNotStored
	}
	return append([]byte(nil), doc...), nil
}

// RedisStore keeps documents in Redis so that every replica shares the
// last good key set.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

const defaultStoreTTL = 24 * time.Hour

// RedisKeyPrefix prefixes every key written by RedisStore.
const RedisKeyPrefix = "jwtguard:jwks:"

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, issuer string, document []byte) error {
	return s.rdb.Set(ctx, storeKey(issuer), document, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, issuer string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, storeKey(issuer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotStored
	}
	return b, err
}

// Issuers are URLs; hash them so keys stay short and free of separators.
func storeKey(issuer string) string {
	sum := sha256.Sum256([]byte(issuer))
	return RedisKeyPrefix + hex.EncodeToString(sum[:])
}
