package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
)

// ledgerError carries the structured HTTP error shape from a helper back to
// the handler, keeping helpers decoupled from gin.
type ledgerError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ledgerError) Error() string { return e.message }

func writeError(c *gin.Context, err *ledgerError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}

// mapDomainError translates the redemption-path taxonomy into distinct HTTP
// shapes so the client can tell "already scanned" from "expired".
func mapDomainError(err error) *ledgerError {
	switch {
	case errors.Is(err, httperr.ErrNotFound):
		return &ledgerError{http.StatusNotFound, httperr.HttpNotFoundError,
			"token or account not found", nil}
	case errors.Is(err, httperr.ErrTokenExpired):
		return &ledgerError{http.StatusGone, httperr.HttpTokenExpiredError,
			"this code has expired, generate a new one", nil}
	case errors.Is(err, httperr.ErrTokenUsed):
		return &ledgerError{http.StatusConflict, httperr.HttpTokenUsedError,
			"this code was already scanned", nil}
	case errors.Is(err, httperr.ErrTokenConflict):
		return &ledgerError{http.StatusConflict, httperr.HttpTokenConflictError,
			"a valid token already exists for this account", nil}
	case errors.Is(err, httperr.ErrValidation):
		return &ledgerError{http.StatusBadRequest, httperr.HttpValidationError,
			err.Error(), nil}
	case errors.Is(err, httperr.ErrRetryExhausted):
		return &ledgerError{http.StatusServiceUnavailable, httperr.HttpRetryExhausted,
			"redemption could not complete, retry later", nil}
	case errors.Is(err, httperr.ErrAlreadyExists):
		return &ledgerError{http.StatusConflict, httperr.HttpValidationError,
			"account already exists", nil}
	default:
		return &ledgerError{http.StatusInternalServerError, httperr.HttpInternalError,
			"internal error", nil}
	}
}

// readDocument reads and decodes a bounded JSON body into a raw document.
func (s *Service) readDocument(c *gin.Context) (map[string]interface{}, *ledgerError) {
	maxBytes := int64(s.maxBodySizeBytes)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBytes+1))
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, &ledgerError{http.StatusInternalServerError, httperr.HttpInternalError, msgReadBodyFailed, nil}
	}
	if int64(len(body)) > maxBytes {
		return nil, &ledgerError{
			http.StatusRequestEntityTooLarge, httperr.HttpInvalidJsonError,
			"Request body exceeds maximum allowed size",
			map[string]interface{}{"max_size_mb": maxBytes / (1024 * 1024)},
		}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(body))
		return nil, &ledgerError{http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, nil}
	}
	return doc, nil
}

// CreateAccountHandler handles POST /v1/accounts.
func (s *Service) CreateAccountHandler(c *gin.Context) {
	var req struct {
		ID   string `json:"id" binding:"required"`
		Zone string `json:"zone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &ledgerError{http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, nil})
		return
	}

	account := &model.Account{
		ID:             req.ID,
		Zone:           req.Zone,
		Tier:           model.TierBronze,
		LastActivityAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(c.Request.Context(), account); err != nil {
		writeError(c, mapDomainError(err))
		return
	}

	slog.Info("[Ledger] Account created", "account_id", account.ID, "zone", account.Zone)
	c.JSON(http.StatusCreated, account)
}

// TokenHandler handles POST /v1/accounts/:account_id/token. Fetch-or-issue
// semantics: repeated calls within the TTL return the same token.
func (s *Service) TokenHandler(c *gin.Context) {
	accountID := c.Param("account_id")

	if _, err := s.store.GetAccount(c.Request.Context(), accountID); err != nil {
		writeError(c, mapDomainError(err))
		return
	}

	tok, err := s.tokens.FetchOrIssue(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, mapDomainError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      tok.ID,
		"expires_at": tok.ExpiresAt,
	})
}

// InvalidateTokenHandler handles DELETE /v1/tokens/:token_id.
func (s *Service) InvalidateTokenHandler(c *gin.Context) {
	if err := s.tokens.Invalidate(c.Request.Context(), c.Param("token_id")); err != nil {
		writeError(c, mapDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// RedeemHandler handles POST /v1/redeem.
func (s *Service) RedeemHandler(c *gin.Context) {
	doc, lerr := s.readDocument(c)
	if lerr != nil {
		writeError(c, lerr)
		return
	}

	tokenID, _ := doc["token_id"].(string)
	if tokenID == "" {
		writeError(c, &ledgerError{http.StatusBadRequest, httperr.HttpValidationError, "token_id is required", nil})
		return
	}

	details, err := model.NormalizeCollectionDocument(doc)
	if err != nil {
		writeError(c, &ledgerError{http.StatusBadRequest, httperr.HttpValidationError, err.Error(), nil})
		return
	}

	result, err := s.processor.Redeem(c.Request.Context(), tokenID, details)
	if err != nil {
		writeError(c, mapDomainError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"event_id":       result.EventID,
		"points_awarded": result.PointsAwarded,
		"balance":        result.NewBalance,
		"tier":           result.Tier,
	})
}

// SubmitCollectionHandler handles POST /v1/collections, the tokenless
// manual flow.
func (s *Service) SubmitCollectionHandler(c *gin.Context) {
	doc, lerr := s.readDocument(c)
	if lerr != nil {
		writeError(c, lerr)
		return
	}

	accountID, _ := doc["account_id"].(string)
	if accountID == "" {
		writeError(c, &ledgerError{http.StatusBadRequest, httperr.HttpValidationError, "account_id is required", nil})
		return
	}

	details, err := model.NormalizeCollectionDocument(doc)
	if err != nil {
		writeError(c, &ledgerError{http.StatusBadRequest, httperr.HttpValidationError, err.Error(), nil})
		return
	}

	result, err := s.processor.SubmitCollection(c.Request.Context(), accountID, details)
	if err != nil {
		writeError(c, mapDomainError(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"event_id":       result.EventID,
		"points_awarded": result.PointsAwarded,
		"balance":        result.NewBalance,
		"tier":           result.Tier,
	})
}

// NotificationsHandler streams coalesced notifications over SSE.
func (s *Service) NotificationsHandler(c *gin.Context) {
	if s.dispatcher == nil {
		writeError(c, &ledgerError{http.StatusServiceUnavailable, httperr.HttpInternalError,
			"notifications are disabled", nil})
		return
	}

	feed := s.dispatcher.Subscribe(c.Request.Context())

	c.Stream(func(w io.Writer) bool {
		n, ok := <-feed
		if !ok {
			return false
		}
		c.SSEvent(string(n.Kind), n)
		return true
	})
}
