package storage

import (
	"context"
	"time"

	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

// ChangeKind classifies a change-feed entry.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
)

// EventChange is one entry of the collection-event change feed. Collection
// events are append-only, so the kind is always Added; the field exists to
// keep the feed shape uniform with the account feed.
type EventChange struct {
	Kind  ChangeKind
	Event *model.CollectionEvent
}

// AccountChange is one entry of the account change feed.
type AccountChange struct {
	Kind    ChangeKind
	Account *model.Account
}

// Txn is the handle passed to a RunTransaction body. Reads performed through
// it participate in conflict detection: the transaction aborts with
// errors.ErrConflict when a record read inside the body was concurrently
// written before commit. Writes are buffered until commit.
type Txn interface {
	GetToken(id string) (*model.RedeemToken, error)
	GetAccount(id string) (*model.Account, error)

	// LiveToken returns the account's current valid, non-expired token,
	// or errors.ErrNotFound when none exists.
	LiveToken(accountID string, now time.Time) (*model.RedeemToken, error)

	// PutToken inserts or updates a token. Inserting a new token also
	// bumps the owning account's version so concurrent issuance for the
	// same account conflicts. The owning account must exist, or be staged
	// in the same transaction; otherwise commit fails with
	// errors.ErrNotFound.
	PutToken(t *model.RedeemToken) error

	PutAccount(a *model.Account) error

	// AppendEvent stages one immutable collection event. The store
	// assigns IngestSeq at commit and emits the event on the change feed.
	AppendEvent(e *model.CollectionEvent) error
}

// Store is the event-store surface the core consumes. A document database
// with change subscriptions and multi-record transactions sits behind it;
// the postgres adapter and the in-memory store both satisfy this contract.
type Store interface {
	GetToken(ctx context.Context, id string) (*model.RedeemToken, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// CreateAccount registers a new account and emits it on the account
	// change feed. Returns errors.ErrAlreadyExists for a duplicate ID.
	CreateAccount(ctx context.Context, a *model.Account) error

	// LiveToken is the read-path twin of Txn.LiveToken. Callers that
	// intend to act on the result must re-read inside a transaction.
	LiveToken(ctx context.Context, accountID string, now time.Time) (*model.RedeemToken, error)

	// EventsSince scans committed events with OccurredAt >= since in
	// ingest order and returns the feed cursor positioned after the last
	// scanned event. Passing the cursor to SubscribeEvents yields a
	// gap-free baseline-then-deltas handoff.
	EventsSince(ctx context.Context, since time.Time) ([]*model.CollectionEvent, int64, error)

	// SubscribeEvents streams committed collection events after the given
	// cursor, preserving commit order. The channel closes when ctx is
	// cancelled or the subscriber falls too far behind; consumers treat a
	// close as a signal to resubscribe from a fresh baseline.
	SubscribeEvents(ctx context.Context, afterCursor int64) (<-chan EventChange, error)

	// SubscribeAccounts streams account record changes.
	SubscribeAccounts(ctx context.Context) (<-chan AccountChange, error)

	// RunTransaction executes fn with read-then-write semantics. A single
	// attempt: conflicting concurrent writes abort the transaction with
	// errors.ErrConflict and no side effects. Retry policy belongs to the
	// caller.
	RunTransaction(ctx context.Context, fn func(txn Txn) error) error

	Ping(ctx context.Context) error
}
