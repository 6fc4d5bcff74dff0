package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byValue map[string]Credential
	byUser  map[string]map[string]struct{}

	locks    userLocks
	lockWait time.Duration
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byValue:  make(map[string]Credential),
		byUser:   make(map[string]map[string]struct{}),
		locks:    userLocks{m: make(map[string]*userLock)},
		lockWait: DefaultStoreConfig().LockWait,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Put implements Tx.
func (s *MemoryStore) Put(ctx context.Context, c Credential) error {
	return s.SaveAll(ctx, []Credential{c})
}

// FindByValue implements Tx.
func (s *MemoryStore) FindByValue(ctx context.Context, value string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byValue[value]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

// FindAllValid implements Tx.
func (s *MemoryStore) FindAllValid(ctx context.Context, userID string) ([]Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credential, 0, 1)
	for v := range s.byUser[userID] {
		if c := s.byValue[v]; c.Valid() {
			out = append(out, c)
		}
	}
	sortCredentials(out)
	return out, nil
}

// SaveAll implements Tx.
func (s *MemoryStore) SaveAll(ctx context.Context, cs []Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	staged := make([]Credential, 0, len(cs))
	for _, c := range cs {
		if err := validateCredential(c); err != nil {
			return err
		}
		staged = append(staged, normalizeCredential(c, now))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range staged {
		s.applyLocked(c)
	}
	return nil
}

func (s *MemoryStore) applyLocked(c Credential) {
	if prev, ok := s.byValue[c.Value]; ok && prev.UserID != c.UserID {
		delete(s.byUser[prev.UserID], c.Value)
	}
	s.byValue[c.Value] = c
	set, ok := s.byUser[c.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[c.UserID] = set
	}
	set[c.Value] = struct{}{}
}

// WithinUser implements Store.
func (s *MemoryStore) WithinUser(ctx context.Context, userID string, fn func(tx Tx) error) error {
	unlock, err := s.locks.lock(ctx, userID, s.lockWait)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &memoryTx{store: s, userID: userID, staged: make(map[string]Credential)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range tx.order {
		s.applyLocked(tx.staged[v])
	}
	return nil
}

// memoryTx stages writes until WithinUser commits them.
type memoryTx struct {
	store  *MemoryStore
	userID string
	staged map[string]Credential
	order  []string
}

func (tx *memoryTx) Put(ctx context.Context, c Credential) error {
	return tx.SaveAll(ctx, []Credential{c})
}

func (tx *memoryTx) FindByValue(ctx context.Context, value string) (Credential, error) {
	if c, ok := tx.staged[value]; ok {
		return c, nil
	}
	return tx.store.FindByValue(ctx, value)
}

func (tx *memoryTx) FindAllValid(ctx context.Context, userID string) ([]Credential, error) {
	base, err := tx.store.FindAllValid(ctx, userID)
	if err != nil {
		return nil, err
	}
	return mergeStaged(base, tx.staged, tx.order, userID), nil
}

func (tx *memoryTx) SaveAll(ctx context.Context, cs []Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := tx.store.now()
	staged := make([]Credential, 0, len(cs))
	for _, c := range cs {
		if err := validateCredential(c); err != nil {
			return err
		}
		if err := checkOwner(tx.userID, c); err != nil {
			return err
		}
		staged = append(staged, normalizeCredential(c, now))
	}
	for _, c := range staged {
		if _, ok := tx.staged[c.Value]; !ok {
			tx.order = append(tx.order, c.Value)
		}
		tx.staged[c.Value] = c
	}
	return nil
}

// mergeStaged overlays staged writes on committed valid credentials.
func mergeStaged(base []Credential, staged map[string]Credential, order []string, userID string) []Credential {
	out := make([]Credential, 0, len(base)+len(staged))
	for _, c := range base {
		if _, ok := staged[c.Value]; ok {
			continue
		}
		out = append(out, c)
	}
	for _, v := range order {
		if c := staged[v]; c.UserID == userID && c.Valid() {
			out = append(out, c)
		}
	}
	sortCredentials(out)
	return out
}

// userLocks hands out one lock per user, dropping it when unused.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

func (l *userLocks) lock(ctx context.Context, userID string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	ul, ok := l.m[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.m[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	release := func() {
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}

	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case ul.ch <- struct{}{}:
		return func() {
			<-ul.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	case <-timeout:
		release()
		return nil, ErrStoreBusy
	}
}
