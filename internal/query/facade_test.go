package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ecoledger-lab/ecoledger/internal/aggregation"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage/memory"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &model.Account{ID: "a1", Zone: "nord"}))
	require.NoError(t, store.RunTransaction(ctx, func(txn storage.Txn) error {
		return txn.AppendEvent(&model.CollectionEvent{
			ID:         "e1",
			AccountID:  "a1",
			Category:   model.CategoryPlastic,
			Weight:     decimal.RequireFromString("12.5"),
			Points:     150,
			OccurredAt: time.Now().UTC(),
			Status:     model.StatusSuccess,
		})
	}))
	return store
}

func startedEngine(t *testing.T, store *memory.Store) *aggregation.Engine {
	t.Helper()
	engine := aggregation.NewEngine(store, aggregation.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return engine
}

func TestFacade_SnapshotLive(t *testing.T) {
	store := seedStore(t)
	facade := NewFacade(startedEngine(t, store), 5*time.Second)

	view, err := facade.Snapshot(context.Background(), aggregation.FamilyLeaderboard)
	require.NoError(t, err)
	require.False(t, view.WarmingUp)

	data := view.Data.(aggregation.LeaderboardData)
	require.Len(t, data.Entries, 1)
	require.Equal(t, "a1", data.Entries[0].AccountID)
}

func TestFacade_SnapshotWhileWarmingUp(t *testing.T) {
	// Engine never started: families stay Initializing, the façade must
	// degrade to partial data instead of erroring.
	engine := aggregation.NewEngine(memory.NewStore(), aggregation.Options{})
	facade := NewFacade(engine, 20*time.Millisecond)

	view, err := facade.Snapshot(context.Background(), aggregation.FamilyMonthly)
	require.NoError(t, err)
	require.True(t, view.WarmingUp)
}

func TestFacade_UnknownFamily(t *testing.T) {
	engine := aggregation.NewEngine(memory.NewStore(), aggregation.Options{})
	facade := NewFacade(engine, 20*time.Millisecond)

	_, err := facade.Snapshot(context.Background(), aggregation.Family("velocity"))
	require.ErrorIs(t, err, ErrUnknownFamily)
}

func TestFacade_CancelledRequest(t *testing.T) {
	engine := aggregation.NewEngine(memory.NewStore(), aggregation.Options{})
	facade := NewFacade(engine, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := facade.Snapshot(ctx, aggregation.FamilyMonthly)
	require.ErrorIs(t, err, context.Canceled)
}

func newTestRouter(f *Facade) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	f.RegisterRoutes(r)
	return r
}

func TestSnapshotHandler(t *testing.T) {
	store := seedStore(t)
	facade := NewFacade(startedEngine(t, store), 5*time.Second)
	router := newTestRouter(facade)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stats/distribution", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Family    string `json:"family"`
		WarmingUp bool   `json:"warming_up"`
		Data      struct {
			TotalEvents int64  `json:"total_collectes"`
			TotalWeight string `json:"total_kg"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "distribution", body.Family)
	require.False(t, body.WarmingUp)
	require.Equal(t, int64(1), body.Data.TotalEvents)
	require.Equal(t, "12.5", body.Data.TotalWeight)
}

func TestSnapshotHandler_UnknownFamily(t *testing.T) {
	engine := aggregation.NewEngine(memory.NewStore(), aggregation.Options{})
	facade := NewFacade(engine, 20*time.Millisecond)
	router := newTestRouter(facade)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stats/velocity", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "unknown statistic family")
}

func TestListFamiliesHandler(t *testing.T) {
	engine := aggregation.NewEngine(memory.NewStore(), aggregation.Options{})
	facade := NewFacade(engine, 20*time.Millisecond)
	router := newTestRouter(facade)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	for _, family := range aggregation.Families {
		require.Contains(t, w.Body.String(), string(family))
	}
}
