package query

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ecoledger-lab/ecoledger/internal/aggregation"
	httperr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
)

// ErrUnknownFamily marks requests for a statistic family the engine does
// not maintain.
var ErrUnknownFamily = errors.New("unknown statistic family")

// RegisterRoutes registers the read-only snapshot endpoints.
func (f *Facade) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stats/:family", f.SnapshotHandler)
	r.GET("/v1/stats", f.ListFamiliesHandler)
}

// SnapshotHandler serves GET /v1/stats/:family.
func (f *Facade) SnapshotHandler(c *gin.Context) {
	family := aggregation.Family(c.Param("family"))

	view, err := f.Snapshot(c.Request.Context(), family)
	if err != nil {
		if errors.Is(err, ErrUnknownFamily) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "unknown statistic family",
				Details:   gin.H{"family": string(family), "known": aggregation.Families},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "failed to read snapshot",
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListFamiliesHandler serves GET /v1/stats.
func (f *Facade) ListFamiliesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"families": aggregation.Families})
}
