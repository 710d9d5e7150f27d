package ledger

import (
	"github.com/gin-gonic/gin"

	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
	"github.com/ecoledger-lab/ecoledger/internal/notify"
	"github.com/ecoledger-lab/ecoledger/internal/redemption"
	"github.com/ecoledger-lab/ecoledger/internal/token"
)

// Service is the write-path HTTP surface: accounts, tokens, redemption, and
// the manual collection flow, plus the notification stream.
type Service struct {
	store            storage.Store
	tokens           *token.Manager
	processor        *redemption.Processor
	dispatcher       *notify.Dispatcher
	maxBodySizeBytes int
}

// NewService wires the ledger HTTP service.
func NewService(
	store storage.Store,
	tokens *token.Manager,
	processor *redemption.Processor,
	dispatcher *notify.Dispatcher,
	maxBodySizeMB int,
) *Service {
	if store == nil {
		panic("ledger: store must not be nil")
	}
	if tokens == nil {
		panic("ledger: token manager must not be nil")
	}
	if processor == nil {
		panic("ledger: processor must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1
	}
	return &Service{
		store:            store,
		tokens:           tokens,
		processor:        processor,
		dispatcher:       dispatcher,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ledger service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/accounts", s.CreateAccountHandler)
	r.POST("/v1/accounts/:account_id/token", s.TokenHandler)
	r.DELETE("/v1/tokens/:token_id", s.InvalidateTokenHandler)
	r.POST("/v1/redeem", s.RedeemHandler)
	r.POST("/v1/collections", s.SubmitCollectionHandler)
	r.GET("/v1/notifications/stream", s.NotificationsHandler)
}
