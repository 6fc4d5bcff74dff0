package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/internal/pgtest"
)

// storeHarness builds a fresh store plus a way to create users it can own
// credentials for. users is the directory those users live in.
type storeHarness struct {
	store   Store
	users   identity.Directory
	newUser func(t *testing.T) string
}

func ulidUser(t *testing.T) string {
	t.Helper()
	id, err := identity.NewULID(time.Now())
	require.NoError(t, err)
	return id
}

func memoryHarness(t *testing.T) storeHarness {
	return storeHarness{store: NewMemoryStore(), users: identity.NewMemoryDirectory(), newUser: ulidUser}
}

func redisHarness(t *testing.T) storeHarness {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultStoreConfig()
	cfg.RedisKeyPrefix = "test:"
	st, err := NewRedisStore(rdb, cfg)
	require.NoError(t, err)
	return storeHarness{store: st, users: identity.NewMemoryDirectory(), newUser: ulidUser}
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, memoryHarness)
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, redisHarness)
}

func TestPostgresStore_Contract(t *testing.T) {
	pool := pgtest.OpenPool(t)

	runStoreContract(t, func(t *testing.T) storeHarness {
		schema := pgtest.MigratedSchema(t, pool)
		st, err := NewPostgresStore(pool, WithPostgresSchema(schema))
		require.NoError(t, err)
		dir, err := identity.NewPostgresDirectory(pool, identity.WithSchema(schema))
		require.NoError(t, err)

		n := 0
		return storeHarness{
			store: st,
			users: dir,
			newUser: func(t *testing.T) string {
				n++
				u, err := dir.Save(context.Background(), identity.User{
					Email:        fmt.Sprintf("u%d@x.io", n),
					PasswordHash: "h",
				})
				require.NoError(t, err)
				return u.ID
			},
		}
	})
}

func runStoreContract(t *testing.T, newHarness func(t *testing.T) storeHarness) {
	t.Run("put and find by value", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		uid := h.newUser(t)

		c := Credential{Value: "tok-1", UserID: uid, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
		require.NoError(t, h.store.Put(ctx, c))

		got, err := h.store.FindByValue(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", got.Value)
		assert.Equal(t, uid, got.UserID)
		assert.Equal(t, KindBearer, got.Kind)
		assert.True(t, got.Valid())
		assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
	})

	t.Run("find missing", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.FindByValue(context.Background(), "nope")
		require.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("put overwrites by value", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		uid := h.newUser(t)

		c := Credential{Value: "tok-1", UserID: uid}
		require.NoError(t, h.store.Put(ctx, c))
		c.Expired, c.Revoked = true, true
		require.NoError(t, h.store.Put(ctx, c))

		got, err := h.store.FindByValue(ctx, "tok-1")
		require.NoError(t, err)
		assert.False(t, got.Valid())

		valid, err := h.store.FindAllValid(ctx, uid)
		require.NoError(t, err)
		assert.Empty(t, valid)
	})

	t.Run("find all valid filters and isolates users", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		alice, bob := h.newUser(t), h.newUser(t)
		base := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, h.store.SaveAll(ctx, []Credential{
			{Value: "a-old", UserID: alice, Expired: true, Revoked: true, CreatedAt: base},
			{Value: "a-cur", UserID: alice, CreatedAt: base.Add(time.Second)},
			{Value: "b-cur", UserID: bob, CreatedAt: base},
		}))

		valid, err := h.store.FindAllValid(ctx, alice)
		require.NoError(t, err)
		require.Len(t, valid, 1)
		assert.Equal(t, "a-cur", valid[0].Value)

		none, err := h.store.FindAllValid(ctx, h.newUser(t))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("save all rejects invalid batch entirely", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		uid := h.newUser(t)

		err := h.store.SaveAll(ctx, []Credential{
			{Value: "ok", UserID: uid},
			{Value: "", UserID: uid},
		})
		require.Error(t, err)

		_, err = h.store.FindByValue(ctx, "ok")
		require.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("within user commits on success", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		uid := h.newUser(t)
		require.NoError(t, h.store.Put(ctx, Credential{Value: "old", UserID: uid}))

		err := h.store.WithinUser(ctx, uid, func(tx Tx) error {
			valid, err := tx.FindAllValid(ctx, uid)
			if err != nil {
				return err
			}
			for i := range valid {
				valid[i].invalidate()
			}
			if err := tx.SaveAll(ctx, valid); err != nil {
				return err
			}
			if err := tx.Put(ctx, Credential{Value: "new", UserID: uid}); err != nil {
				return err
			}

			// Own writes are visible inside the transaction.
			inside, err := tx.FindAllValid(ctx, uid)
			if err != nil {
				return err
			}
			if len(inside) != 1 || inside[0].Value != "new" {
				return fmt.Errorf("unexpected view inside tx: %+v", inside)
			}
			return nil
		})
		require.NoError(t, err)

		valid, err := h.store.FindAllValid(ctx, uid)
		require.NoError(t, err)
		require.Len(t, valid, 1)
		assert.Equal(t, "new", valid[0].Value)

		old, err := h.store.FindByValue(ctx, "old")
		require.NoError(t, err)
		assert.True(t, old.Expired && old.Revoked)
	})

	t.Run("within user discards on error", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		uid := h.newUser(t)
		require.NoError(t, h.store.Put(ctx, Credential{Value: "old", UserID: uid}))

		boom := errors.New("boom")
		err := h.store.WithinUser(ctx, uid, func(tx Tx) error {
			old, err := tx.FindByValue(ctx, "old")
			if err != nil {
				return err
			}
			old.invalidate()
			if err := tx.Put(ctx, old); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := h.store.FindByValue(ctx, "old")
		require.NoError(t, err)
		assert.True(t, got.Valid(), "write must be discarded")
	})

	t.Run("within user rejects foreign writes", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		alice, bob := h.newUser(t), h.newUser(t)

		err := h.store.WithinUser(ctx, alice, func(tx Tx) error {
			return tx.Put(ctx, Credential{Value: "x", UserID: bob})
		})
		require.Error(t, err)

		_, err = h.store.FindByValue(ctx, "x")
		require.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("concurrent supersede keeps one valid", func(t *testing.T) {
		h := newHarness(t)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		uid := h.newUser(t)

		const n = 12
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- h.store.WithinUser(ctx, uid, func(tx Tx) error {
					valid, err := tx.FindAllValid(ctx, uid)
					if err != nil {
						return err
					}
					for j := range valid {
						valid[j].invalidate()
					}
					if err := tx.SaveAll(ctx, valid); err != nil {
						return err
					}
					return tx.Put(ctx, Credential{Value: fmt.Sprintf("tok-%02d", i), UserID: uid})
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		valid, err := h.store.FindAllValid(ctx, uid)
		require.NoError(t, err)
		require.Len(t, valid, 1)
	})

	t.Run("logout racing login and refresh converges", func(t *testing.T) {
		h := newHarness(t)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		svc, err := NewService(h.users, h.store, testHasher(), testCodec(t))
		require.NoError(t, err)
		reg, err := svc.Register(ctx, RegisterInput{Email: "race@x.io", Password: "pw", Role: identity.RoleUser})
		require.NoError(t, err)
		u, err := h.users.FindByEmail(ctx, "race@x.io")
		require.NoError(t, err)

		old := reg.AccessToken
		for round := 0; round < 4; round++ {
			var (
				wg                              sync.WaitGroup
				logoutErr, loginErr, refreshErr error
				login, refreshed                TokenPair
			)
			start := make(chan struct{})
			wg.Add(3)
			go func() {
				defer wg.Done()
				<-start
				logoutErr = svc.Logout(ctx, old, nil)
			}()
			go func() {
				defer wg.Done()
				<-start
				login, loginErr = svc.Authenticate(ctx, "race@x.io", "pw")
			}()
			go func() {
				defer wg.Done()
				<-start
				refreshed, refreshErr = svc.RefreshToken(ctx, reg.RefreshToken)
			}()
			close(start)
			wg.Wait()
			require.NoError(t, logoutErr)
			require.NoError(t, loginErr)
			require.NoError(t, refreshErr)

			c, err := h.store.FindByValue(ctx, old)
			require.NoError(t, err)
			assert.True(t, c.Expired, "round %d: logged-out credential must be expired", round)
			assert.True(t, c.Revoked, "round %d: logged-out credential must be revoked", round)

			valid, err := h.store.FindAllValid(ctx, u.ID)
			require.NoError(t, err)
			require.Len(t, valid, 1, "round %d", round)
			assert.Contains(t, []string{login.AccessToken, refreshed.AccessToken}, valid[0].Value)
			old = valid[0].Value
		}
	})

	t.Run("different users do not block each other", func(t *testing.T) {
		h := newHarness(t)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		alice, bob := h.newUser(t), h.newUser(t)

		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- h.store.WithinUser(ctx, alice, func(Tx) error {
				close(entered)
				<-release
				return nil
			})
		}()
		<-entered

		err := h.store.WithinUser(ctx, bob, func(tx Tx) error {
			return tx.Put(ctx, Credential{Value: "bob-1", UserID: bob})
		})
		close(release)
		require.NoError(t, err)
		require.NoError(t, <-done)
	})
}

func TestMemoryStore_WithinUserHonorsContext(t *testing.T) {
	s := NewMemoryStore()
	uid := "01ARZ3NDEKTSV4RRFFQ69G5FAV"

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithinUser(context.Background(), uid, func(Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.WithinUser(ctx, uid, func(Tx) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_LocksAreReleased(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.WithinUser(context.Background(), fmt.Sprintf("u%d", i), func(Tx) error { return nil }))
	}
	s.locks.mu.Lock()
	defer s.locks.mu.Unlock()
	assert.Empty(t, s.locks.m)
}

func TestRedisStore_BusyWhenLeaseHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultStoreConfig()
	cfg.LockWait = 50 * time.Millisecond
	st, err := NewRedisStore(rdb, cfg)
	require.NoError(t, err)

	require.NoError(t, mr.Set(st.lockKey("u1"), "someone-else"))

	err = st.WithinUser(context.Background(), "u1", func(Tx) error { return nil })
	require.ErrorIs(t, err, ErrStoreBusy)
}

func TestRedisStore_LeaseLostDiscardsWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := NewRedisStore(rdb, DefaultStoreConfig())
	require.NoError(t, err)
	ctx := context.Background()

	err = st.WithinUser(ctx, "u1", func(tx Tx) error {
		if err := tx.Put(ctx, Credential{Value: "t1", UserID: "u1"}); err != nil {
			return err
		}
		// Another holder takes over after our lease expired.
		mr.Del(st.lockKey("u1"))
		return mr.Set(st.lockKey("u1"), "successor")
	})
	require.ErrorIs(t, err, ErrLeaseLost)

	_, err = st.FindByValue(ctx, "t1")
	require.ErrorIs(t, err, ErrCredentialNotFound)
	assert.Equal(t, "successor", mustGet(t, mr, st.lockKey("u1")), "successor lease must survive release")
}

func TestRedisStore_KeysDoNotContainRawToken(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := NewRedisStore(rdb, DefaultStoreConfig())
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), Credential{Value: "secret-token-value", UserID: "u1"}))

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "secret-token-value")
	}
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil, DefaultStoreConfig())
	require.Error(t, err)
}
