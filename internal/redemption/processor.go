package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	corerr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
	"github.com/ecoledger-lab/ecoledger/internal/core/pricing"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 25 * time.Millisecond
)

// Result reports one successful credit.
type Result struct {
	EventID       string
	AccountID     string
	PointsAwarded int64
	NewBalance    int64
	Tier          model.Tier
}

// Processor converts a token plus collection details into ledger points
// exactly once. Everything happens inside one store transaction; the
// processor never calls the aggregation engine, which observes the new
// event through the change feed.
type Processor struct {
	store      storage.Store
	calculator pricing.Calculator
	maxRetries int
	backoff    time.Duration
	nowFn      func() time.Time
}

// NewProcessor creates a redemption processor. The pricing calculator is
// the single award policy; maxRetries bounds conflict retries only.
func NewProcessor(store storage.Store, calculator pricing.Calculator, maxRetries int, backoff time.Duration) *Processor {
	if store == nil {
		panic("redemption: store must not be nil")
	}
	if calculator == nil {
		panic("redemption: calculator must not be nil")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Processor{
		store:      store,
		calculator: calculator,
		maxRetries: maxRetries,
		backoff:    backoff,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Redeem validates the token and credits the owning account atomically.
// Validation failures (not found, expired, already used, bad input) are
// terminal and leave no side effects. Transaction conflicts are retried up
// to the configured budget; only ErrRetryExhausted surfaces after that.
func (p *Processor) Redeem(ctx context.Context, tokenID string, details model.CollectionDetails) (*Result, error) {
	if err := validateDetails(details); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}

		result, err := p.redeemOnce(ctx, tokenID, details)
		if err == nil {
			slog.Info("[Redemption] Credited",
				"token_id", tokenID,
				"account_id", result.AccountID,
				"event_id", result.EventID,
				"points", result.PointsAwarded,
				"attempt", attempt+1,
			)
			return result, nil
		}
		if !errors.Is(err, corerr.ErrConflict) {
			return nil, err
		}
		lastErr = err
		slog.Warn("[Redemption] Transaction conflict, retrying",
			"token_id", tokenID,
			"attempt", attempt+1,
			"max_retries", p.maxRetries,
		)
	}

	return nil, fmt.Errorf("%w: %v", corerr.ErrRetryExhausted, lastErr)
}

func (p *Processor) redeemOnce(ctx context.Context, tokenID string, details model.CollectionDetails) (*Result, error) {
	now := p.nowFn()
	var result Result

	err := p.store.RunTransaction(ctx, func(txn storage.Txn) error {
		tok, err := txn.GetToken(tokenID)
		if err != nil {
			if errors.Is(err, corerr.ErrNotFound) {
				return fmt.Errorf("%w: token %s", corerr.ErrNotFound, tokenID)
			}
			return err
		}

		// State is decided from the in-transaction read: the expiry check
		// is absolute, and Used is re-evaluated here so a racing redeem
		// loses inside the transaction boundary, not at a pre-check.
		switch tok.StateAt(now) {
		case model.TokenUsed:
			return corerr.ErrTokenUsed
		case model.TokenExpired:
			return corerr.ErrTokenExpired
		}

		account, err := txn.GetAccount(tok.AccountID)
		if err != nil {
			return fmt.Errorf("load account %s: %w", tok.AccountID, err)
		}

		points := p.calculator.Points(details.Category, details.Weight)

		event := &model.CollectionEvent{
			ID:         uuid.NewString(),
			AccountID:  tok.AccountID,
			Category:   details.Category,
			Weight:     details.Weight,
			Points:     points,
			OccurredAt: now,
			TokenID:    tok.ID,
			Geo:        details.Geo,
			Status:     model.StatusSuccess,
		}
		if err := txn.AppendEvent(event); err != nil {
			return err
		}

		tok.Used = true
		if err := txn.PutToken(tok); err != nil {
			return err
		}

		account.Credit(points, details.Weight, now)
		if err := txn.PutAccount(account); err != nil {
			return err
		}

		result = Result{
			EventID:       event.ID,
			AccountID:     account.ID,
			PointsAwarded: points,
			NewBalance:    account.Balance,
			Tier:          account.Tier,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitCollection appends a collection event without a token (the manual
// submission flow), crediting the account in the same transaction. Shares
// the pricing policy and retry budget with Redeem.
func (p *Processor) SubmitCollection(ctx context.Context, accountID string, details model.CollectionDetails) (*Result, error) {
	if err := validateDetails(details); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}

		result, err := p.submitOnce(ctx, accountID, details)
		if err == nil {
			slog.Info("[Redemption] Manual collection credited",
				"account_id", accountID,
				"event_id", result.EventID,
				"points", result.PointsAwarded,
			)
			return result, nil
		}
		if !errors.Is(err, corerr.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", corerr.ErrRetryExhausted, lastErr)
}

func (p *Processor) submitOnce(ctx context.Context, accountID string, details model.CollectionDetails) (*Result, error) {
	now := p.nowFn()
	var result Result

	err := p.store.RunTransaction(ctx, func(txn storage.Txn) error {
		account, err := txn.GetAccount(accountID)
		if err != nil {
			if errors.Is(err, corerr.ErrNotFound) {
				return fmt.Errorf("%w: account %s", corerr.ErrNotFound, accountID)
			}
			return err
		}

		points := p.calculator.Points(details.Category, details.Weight)

		event := &model.CollectionEvent{
			ID:         uuid.NewString(),
			AccountID:  accountID,
			Category:   details.Category,
			Weight:     details.Weight,
			Points:     points,
			OccurredAt: now,
			Geo:        details.Geo,
			Status:     model.StatusSuccess,
		}
		if err := txn.AppendEvent(event); err != nil {
			return err
		}

		account.Credit(points, details.Weight, now)
		if err := txn.PutAccount(account); err != nil {
			return err
		}

		result = Result{
			EventID:       event.ID,
			AccountID:     account.ID,
			PointsAwarded: points,
			NewBalance:    account.Balance,
			Tier:          account.Tier,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func validateDetails(details model.CollectionDetails) error {
	if !model.ValidCategory(details.Category) {
		return corerr.Validationf("unknown category %q", details.Category)
	}
	if details.Weight.IsNegative() {
		return corerr.Validationf("weight must be non-negative, got %s", details.Weight)
	}
	return nil
}
