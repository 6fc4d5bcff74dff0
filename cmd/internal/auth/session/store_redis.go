package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"warden/cmd/security/token"
)

// RedisStore implements Store on Redis.
//
// Layout (all keys under the configured prefix):
//
//	cred:<storage key>     hash: value, kind, user_id, expired, revoked, created_at
//	user:<id>:valid        set of storage keys of the user's valid credentials
//	lock:user:<id>         per-user lease (SET NX PX, released by compare-and-delete)
//
// The storage key is token.StorageKey(value), so raw tokens never appear in key names.
// WithinUser stages writes and commits them in one MULTI/EXEC guarded by WATCH
// on the lease, so a holder whose lease expired cannot overwrite a successor.
type RedisStore struct {
	rdb      redis.UniversalClient
	prefix   string
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

// NewRedisStore builds a RedisStore. The client is owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, cfg StoreConfig) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("session: nil redis client")
	}
	def := DefaultStoreConfig()
	if cfg.RedisLockTTL <= 0 {
		cfg.RedisLockTTL = def.RedisLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	return &RedisStore{
		rdb:      rdb,
		prefix:   cfg.RedisKeyPrefix,
		lockTTL:  cfg.RedisLockTTL,
		lockWait: cfg.LockWait,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *RedisStore) credKey(value string) string {
	return s.prefix + "cred:" + token.StorageKey(value)
}

func (s *RedisStore) validKey(userID string) string {
	return s.prefix + "user:" + userID + ":valid"
}

func (s *RedisStore) lockKey(userID string) string {
	return s.prefix + "lock:user:" + userID
}

// Put implements Tx.
func (s *RedisStore) Put(ctx context.Context, c Credential) error {
	return s.SaveAll(ctx, []Credential{c})
}

// FindByValue implements Tx.
func (s *RedisStore) FindByValue(ctx context.Context, value string) (Credential, error) {
	if value == "" {
		return Credential{}, ErrCredentialNotFound
	}
	return s.load(ctx, s.credKey(value))
}

func (s *RedisStore) load(ctx context.Context, key string) (Credential, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Credential{}, err
	}
	if len(m) == 0 {
		return Credential{}, ErrCredentialNotFound
	}
	return decodeCredential(m)
}

// FindAllValid implements Tx.
func (s *RedisStore) FindAllValid(ctx context.Context, userID string) ([]Credential, error) {
	keys, err := s.rdb.SMembers(ctx, s.validKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(keys))
	for _, k := range keys {
		c, err := s.load(ctx, s.prefix+"cred:"+k)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.Valid() && c.UserID == userID {
			out = append(out, c)
		}
	}
	sortCredentials(out)
	return out, nil
}

// SaveAll implements Tx. Writes go out in a single MULTI/EXEC.
func (s *RedisStore) SaveAll(ctx context.Context, cs []Credential) error {
	staged, err := s.prepare(cs)
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		return ctx.Err()
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrites(ctx, pipe, staged)
		return nil
	})
	return err
}

func (s *RedisStore) prepare(cs []Credential) ([]Credential, error) {
	now := s.now()
	out := make([]Credential, 0, len(cs))
	for _, c := range cs {
		if err := validateCredential(c); err != nil {
			return nil, err
		}
		out = append(out, normalizeCredential(c, now))
	}
	return out, nil
}

func (s *RedisStore) queueWrites(ctx context.Context, pipe redis.Pipeliner, cs []Credential) {
	for _, c := range cs {
		sk := token.StorageKey(c.Value)
		pipe.HSet(ctx, s.prefix+"cred:"+sk, encodeCredential(c))
		if c.Valid() {
			pipe.SAdd(ctx, s.validKey(c.UserID), sk)
		} else {
			pipe.SRem(ctx, s.validKey(c.UserID), sk)
		}
	}
}

// releaseScript deletes the lease only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WithinUser implements Store.
func (s *RedisStore) WithinUser(ctx context.Context, userID string, fn func(tx Tx) error) error {
	lockKey := s.lockKey(userID)
	lease, err := s.acquire(ctx, lockKey)
	if err != nil {
		return err
	}
	defer func() {
		// Release on a fresh context so a canceled request still frees the lease.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, s.rdb, []string{lockKey}, lease).Err()
	}()

	tx := &redisTx{store: s, userID: userID, staged: make(map[string]Credential)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}

	staged := make([]Credential, 0, len(tx.order))
	for _, v := range tx.order {
		staged = append(staged, tx.staged[v])
	}

	err = s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
		held, err := rtx.Get(ctx, lockKey).Result()
		if errors.Is(err, redis.Nil) || (err == nil && held != lease) {
			return ErrLeaseLost
		}
		if err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueWrites(ctx, pipe, staged)
			return nil
		})
		return err
	}, lockKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrLeaseLost
	}
	return err
}

// acquire polls SET NX PX until it wins, the context ends or lockWait passes.
func (s *RedisStore) acquire(ctx context.Context, key string) (string, error) {
	lease := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)
	backoff := 5 * time.Millisecond

	for {
		ok, err := s.rdb.SetNX(ctx, key, lease, s.lockTTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return lease, nil
		}
		if time.Now().After(deadline) {
			return "", ErrStoreBusy
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// redisTx stages writes until WithinUser commits them.
type redisTx struct {
	store  *RedisStore
	userID string
	staged map[string]Credential
	order  []string
}

func (tx *redisTx) Put(ctx context.Context, c Credential) error {
	return tx.SaveAll(ctx, []Credential{c})
}

func (tx *redisTx) FindByValue(ctx context.Context, value string) (Credential, error) {
	if c, ok := tx.staged[value]; ok {
		return c, nil
	}
	return tx.store.FindByValue(ctx, value)
}

func (tx *redisTx) FindAllValid(ctx context.Context, userID string) ([]Credential, error) {
	base, err := tx.store.FindAllValid(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mergeStaged(base, tx.staged, tx.order, userID), nil
}

func (tx *redisTx) SaveAll(ctx context.Context, cs []Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	staged, err := tx.store.prepare(cs)
	if err != nil {
		return err
	}
	for _, c := range staged {
		if err := checkOwner(tx.userID, c); err != nil {
			return err
		}
	}
	for _, c := range staged {
		if _, ok := tx.staged[c.Value]; !ok {
			tx.order = append(tx.order, c.Value)
		}
		tx.staged[c.Value] = c
	}
	return nil
}

func encodeCredential(c Credential) map[string]any {
	return map[string]any{
		"value":      c.Value,
		"kind":       string(c.Kind),
		"user_id":    c.UserID,
		"expired":    boolField(c.Expired),
		"revoked":    boolField(c.Revoked),
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeCredential(m map[string]string) (Credential, error) {
	created, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return Credential{}, fmt.Errorf("session: corrupt credential record: %w", err)
	}
	return Credential{
		Value:     m["value"],
		Kind:      CredentialKind(m["kind"]),
		UserID:    m["user_id"],
		Expired:   m["expired"] == "1",
		Revoked:   m["revoked"] == "1",
		CreatedAt: created.UTC(),
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
