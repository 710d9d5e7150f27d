package memory

import (
	"context"
	"sync"
	"time"

	corerr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind is dropped (channel closed) so a slow consumer can
// never block commits; consumers resubscribe from a fresh baseline.
const subscriberBuffer = 256

// Store is an in-memory storage.Store with optimistic, version-checked
// transactions and fan-out change subscriptions. It is the reference
// implementation of the transaction contract and backs the test suites.
type Store struct {
	mu sync.Mutex

	tokens   map[string]*model.RedeemToken
	accounts map[string]*model.Account
	events   []*model.CollectionEvent // ingest order; seq = index+1
	byToken  map[string]string        // token ID -> event ID (1:1 enforcement)

	eventSubs   map[int]chan storage.EventChange
	accountSubs map[int]chan storage.AccountChange
	nextSubID   int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tokens:      make(map[string]*model.RedeemToken),
		accounts:    make(map[string]*model.Account),
		byToken:     make(map[string]string),
		eventSubs:   make(map[int]chan storage.EventChange),
		accountSubs: make(map[int]chan storage.AccountChange),
	}
}

func copyToken(t *model.RedeemToken) *model.RedeemToken {
	c := *t
	return &c
}

func copyAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

func copyEvent(e *model.CollectionEvent) *model.CollectionEvent {
	c := *e
	if e.Geo != nil {
		geo := *e.Geo
		c.Geo = &geo
	}
	return &c
}

func (s *Store) GetToken(_ context.Context, id string) (*model.RedeemToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, corerr.ErrNotFound
	}
	return copyToken(t), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, corerr.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *Store) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; exists {
		return corerr.ErrAlreadyExists
	}
	stored := copyAccount(a)
	stored.Version = 1
	s.accounts[a.ID] = stored
	s.publishAccountLocked(storage.AccountChange{Kind: storage.Added, Account: copyAccount(stored)})
	return nil
}

func (s *Store) LiveToken(_ context.Context, accountID string, now time.Time) (*model.RedeemToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.liveTokenLocked(accountID, now); t != nil {
		return copyToken(t), nil
	}
	return nil, corerr.ErrNotFound
}

func (s *Store) liveTokenLocked(accountID string, now time.Time) *model.RedeemToken {
	for _, t := range s.tokens {
		if t.AccountID == accountID && t.Live(now) {
			return t
		}
	}
	return nil
}

func (s *Store) EventsSince(_ context.Context, since time.Time) ([]*model.CollectionEvent, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CollectionEvent
	for _, e := range s.events {
		if !e.OccurredAt.Before(since) {
			out = append(out, copyEvent(e))
		}
	}
	return out, int64(len(s.events)), nil
}

func (s *Store) SubscribeEvents(ctx context.Context, afterCursor int64) (<-chan storage.EventChange, error) {
	s.mu.Lock()

	var backlog []*model.CollectionEvent
	if afterCursor < int64(len(s.events)) {
		backlog = s.events[afterCursor:]
	}

	ch := make(chan storage.EventChange, len(backlog)+subscriberBuffer)
	for _, e := range backlog {
		ch <- storage.EventChange{Kind: storage.Added, Event: copyEvent(e)}
	}

	id := s.nextSubID
	s.nextSubID++
	s.eventSubs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.eventSubs[id]; ok {
			delete(s.eventSubs, id)
			close(sub)
		}
	}()

	return ch, nil
}

func (s *Store) SubscribeAccounts(ctx context.Context) (<-chan storage.AccountChange, error) {
	s.mu.Lock()
	ch := make(chan storage.AccountChange, subscriberBuffer)
	id := s.nextSubID
	s.nextSubID++
	s.accountSubs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.accountSubs[id]; ok {
			delete(s.accountSubs, id)
			close(sub)
		}
	}()

	return ch, nil
}

// publishEventLocked fans one committed event out to all subscribers.
// A subscriber whose buffer is full is dropped rather than blocked.
func (s *Store) publishEventLocked(change storage.EventChange) {
	for id, sub := range s.eventSubs {
		select {
		case sub <- change:
		default:
			delete(s.eventSubs, id)
			close(sub)
		}
	}
}

func (s *Store) publishAccountLocked(change storage.AccountChange) {
	for id, sub := range s.accountSubs {
		select {
		case sub <- change:
		default:
			delete(s.accountSubs, id)
			close(sub)
		}
	}
}

func (s *Store) Ping(_ context.Context) error { return nil }

// txn buffers reads and writes for one RunTransaction body. The read set
// records the version of every record read; commit re-validates those
// versions under the store lock and aborts with ErrConflict on any change.
type txn struct {
	s *Store

	readTokens   map[string]int64
	readAccounts map[string]int64

	putTokens   map[string]*model.RedeemToken
	putAccounts map[string]*model.Account
	appended    []*model.CollectionEvent
}

func (s *Store) RunTransaction(ctx context.Context, fn func(txn storage.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &txn{
		s:            s,
		readTokens:   make(map[string]int64),
		readAccounts: make(map[string]int64),
		putTokens:    make(map[string]*model.RedeemToken),
		putAccounts:  make(map[string]*model.Account),
	}

	if err := fn(t); err != nil {
		return err
	}

	return s.commit(t)
}

func (t *txn) GetToken(id string) (*model.RedeemToken, error) {
	if staged, ok := t.putTokens[id]; ok {
		return copyToken(staged), nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tok, ok := t.s.tokens[id]
	if !ok {
		return nil, corerr.ErrNotFound
	}
	t.readTokens[id] = tok.Version
	return copyToken(tok), nil
}

func (t *txn) GetAccount(id string) (*model.Account, error) {
	if staged, ok := t.putAccounts[id]; ok {
		return copyAccount(staged), nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, corerr.ErrNotFound
	}
	t.readAccounts[id] = a.Version
	return copyAccount(a), nil
}

// LiveToken records the owning account's version in the read set. Token
// issuance bumps that version on commit, so two transactions that both
// observe "no live token" for one account cannot both commit an issue.
func (t *txn) LiveToken(accountID string, now time.Time) (*model.RedeemToken, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if a, ok := t.s.accounts[accountID]; ok {
		t.readAccounts[accountID] = a.Version
	}
	if tok := t.s.liveTokenLocked(accountID, now); tok != nil {
		t.readTokens[tok.ID] = tok.Version
		return copyToken(tok), nil
	}
	return nil, corerr.ErrNotFound
}

func (t *txn) PutToken(tok *model.RedeemToken) error {
	t.putTokens[tok.ID] = copyToken(tok)
	return nil
}

func (t *txn) PutAccount(a *model.Account) error {
	t.putAccounts[a.ID] = copyAccount(a)
	return nil
}

func (t *txn) AppendEvent(e *model.CollectionEvent) error {
	if err := e.Validate(); err != nil {
		return corerr.Validationf("%v", err)
	}
	t.appended = append(t.appended, copyEvent(e))
	return nil
}

// commit validates the read set and applies all staged writes atomically.
func (s *Store) commit(t *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range t.readTokens {
		current, ok := s.tokens[id]
		if !ok || current.Version != version {
			return corerr.ErrConflict
		}
	}
	for id, version := range t.readAccounts {
		current, ok := s.accounts[id]
		if !ok || current.Version != version {
			return corerr.ErrConflict
		}
	}
	for _, e := range t.appended {
		if e.TokenID != "" {
			if _, taken := s.byToken[e.TokenID]; taken {
				return corerr.ErrConflict
			}
		}
	}
	for _, tok := range t.putTokens {
		if _, exists := s.tokens[tok.ID]; exists {
			continue
		}
		// Mirrors the relational foreign key: a new token must reference an
		// account that exists, or one staged in this same transaction.
		if _, ok := s.accounts[tok.AccountID]; ok {
			continue
		}
		if _, staged := t.putAccounts[tok.AccountID]; !staged {
			return corerr.ErrNotFound
		}
	}

	for id, tok := range t.putTokens {
		stored := copyToken(tok)
		if current, exists := s.tokens[id]; exists {
			stored.Version = current.Version + 1
		} else {
			stored.Version = 1
			// New token claims the account's single validity slot.
			if owner, ok := s.accounts[tok.AccountID]; ok {
				owner.Version++
			}
		}
		s.tokens[id] = stored
	}

	for id, a := range t.putAccounts {
		stored := copyAccount(a)
		if current, exists := s.accounts[id]; exists {
			stored.Version = current.Version + 1
		} else {
			stored.Version = 1
		}
		s.accounts[id] = stored
		s.publishAccountLocked(storage.AccountChange{Kind: storage.Modified, Account: copyAccount(stored)})
	}

	for _, e := range t.appended {
		stored := copyEvent(e)
		stored.IngestSeq = int64(len(s.events)) + 1
		s.events = append(s.events, stored)
		if stored.TokenID != "" {
			s.byToken[stored.TokenID] = stored.ID
		}
		s.publishEventLocked(storage.EventChange{Kind: storage.Added, Event: copyEvent(stored)})
	}

	return nil
}
