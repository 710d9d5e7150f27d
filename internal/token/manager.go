package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	corerr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
)

// Manager issues, fetches, and invalidates redemption tokens. All state
// lives in the store; the manager holds only configuration.
type Manager struct {
	store storage.Store
	ttl   time.Duration
	nowFn func() time.Time
}

// NewManager creates a token manager with the given validity window.
func NewManager(store storage.Store, ttl time.Duration) *Manager {
	if store == nil {
		panic("token: store must not be nil")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a new token for the account. Fails with ErrNotFound when
// the account does not exist and ErrTokenConflict when a valid, non-expired
// token already exists: Issue is the internal strict primitive; external
// callers go through FetchOrIssue.
func (m *Manager) Issue(ctx context.Context, accountID string) (*model.RedeemToken, error) {
	now := m.nowFn()
	issued := &model.RedeemToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	err := m.store.RunTransaction(ctx, func(txn storage.Txn) error {
		if _, err := txn.GetAccount(accountID); err != nil {
			return fmt.Errorf("look up account: %w", err)
		}
		existing, err := txn.LiveToken(accountID, now)
		if err == nil && existing != nil {
			return corerr.ErrTokenConflict
		}
		if err != nil && !errors.Is(err, corerr.ErrNotFound) {
			return fmt.Errorf("look up live token: %w", err)
		}
		return txn.PutToken(issued)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("[Token] Issued",
		"token_id", issued.ID,
		"account_id", accountID,
		"expires_at", issued.ExpiresAt,
	)
	return issued, nil
}

// FetchOrIssue returns the account's current valid token, issuing a fresh
// one only when none exists. This is the only issuance operation exposed to
// the presentation layer; repeated calls within the TTL return the same
// token, never a duplicate.
func (m *Manager) FetchOrIssue(ctx context.Context, accountID string) (*model.RedeemToken, error) {
	existing, err := m.store.LiveToken(ctx, accountID, m.nowFn())
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, corerr.ErrNotFound) {
		return nil, fmt.Errorf("look up live token: %w", err)
	}

	issued, err := m.Issue(ctx, accountID)
	if err == nil {
		return issued, nil
	}
	// Lost the issuance race: some concurrent caller created the token.
	// Return theirs; the reuse policy makes this indistinguishable.
	if errors.Is(err, corerr.ErrTokenConflict) || errors.Is(err, corerr.ErrConflict) {
		return m.store.LiveToken(ctx, accountID, m.nowFn())
	}
	return nil, err
}

// Invalidate marks a token used without crediting points. Administrative
// escape hatch for compromised or cancelled tokens; idempotent.
func (m *Manager) Invalidate(ctx context.Context, tokenID string) error {
	err := m.store.RunTransaction(ctx, func(txn storage.Txn) error {
		tok, err := txn.GetToken(tokenID)
		if err != nil {
			return err
		}
		if tok.Used {
			return nil
		}
		tok.Used = true
		return txn.PutToken(tok)
	})
	if err != nil {
		return err
	}
	slog.Info("[Token] Invalidated", "token_id", tokenID)
	return nil
}
