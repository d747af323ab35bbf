package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/cache"
	"github.com/ashare/papertrade/internal/clients/quotes"
	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/engine"
	"github.com/ashare/papertrade/internal/entrust"
	"github.com/ashare/papertrade/internal/events"
	"github.com/ashare/papertrade/internal/modules/accounts"
	"github.com/ashare/papertrade/internal/modules/orders"
	"github.com/ashare/papertrade/internal/modules/positions"
	"github.com/ashare/papertrade/internal/modules/records"
	"github.com/ashare/papertrade/internal/modules/statements"
)

// openCalendar keeps the session always open for deterministic tests.
type openCalendar struct{}

func (openCalendar) IsTradingTime(time.Time) bool { return true }
func (openCalendar) Today(t time.Time) string     { return t.Format(dayFormat) }

type serverHarness struct {
	srv   *Server
	ticks *quotes.MemoryProvider
}

func setupServer(t *testing.T) *serverHarness {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	require.NoError(t, database.InitSchema(conn))
	t.Cleanup(func() { conn.Close() })

	log := zerolog.Nop()
	cfg := &config.Config{
		MarketName: "CHINA_A",
		Timezone:   "Asia/Shanghai",
		Auth: config.AuthConfig{
			Mode:        config.AuthModeUID,
			TokenPrefix: "Token",
		},
		User: config.UserDefaults{
			Capital:    "1000000",
			Commission: "0.0003",
			TaxRate:    "0.001",
			Slippage:   "0.01",
		},
	}

	bus := events.NewBus(log)
	ticks := quotes.NewMemoryProvider()
	userCache := cache.NewMemoryUserCache()
	posCache := cache.NewMemoryPositionCache()
	userRepo := accounts.NewUserRepository(conn, log)
	orderRepo := orders.NewOrderRepository(conn, log)
	positionRepo := positions.NewPositionRepository(conn, log)
	statementRepo := statements.NewStatementRepository(conn, log)
	recordRepo := records.NewAssetsRecordRepository(conn, log)

	userEngine := engine.NewUserEngine(bus, userRepo, positionRepo, recordRepo, userCache, posCache, ticks, log)
	market := engine.NewMarketEngine(bus, entrust.NewQueue(), ticks, userEngine, openCalendar{}, log)
	mainEngine := engine.NewMainEngine(bus, market, userEngine, openCalendar{}, orderRepo, statementRepo, userRepo, userCache, log)
	require.NoError(t, mainEngine.Startup(context.Background()))
	t.Cleanup(mainEngine.Shutdown)

	srv := New(Config{
		Log:        log,
		Config:     cfg,
		Engine:     mainEngine,
		UserEngine: userEngine,
		Quotes:     ticks,
		Users:      userRepo,
		Orders:     orderRepo,
		Positions:  positionRepo,
		Statements: statementRepo,
		UserCache:  userCache,
		PosCache:   posCache,
	})
	return &serverHarness{srv: srv, ticks: ticks}
}

func (h *serverHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (h *serverHarness) register(t *testing.T) (userID, token string) {
	t.Helper()

	rec := h.do(t, http.MethodPost, "/auth/register", "", map[string]string{"desc": "test account"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		User  domain.User `json:"user"`
		Token string      `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.User.ID, resp.Token
}

func (h *serverHarness) seedTicks(current, bid1, ask1 string) {
	h.ticks.SetTicks(&domain.Quotes{
		Symbol:    "600519",
		Exchange:  domain.ExchangeSH,
		Current:   dec(current),
		Bids:      [5]domain.Level{{Price: dec(bid1), Volume: 10000}},
		Asks:      [5]domain.Level{{Price: dec(ask1), Volume: 10000}},
		Timestamp: time.Now(),
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRegisterAndLogin(t *testing.T) {
	h := setupServer(t)

	userID, token := h.register(t)
	require.Equal(t, userID, token, "UID mode issues the raw user id")

	rec := h.do(t, http.MethodPost, "/auth/login", "", map[string]string{"id": userID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/auth/login", "", map[string]string{"id": "ffffffffffffffffffffffff"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	h := setupServer(t)

	rec := h.do(t, http.MethodGet, "/position/", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/position/", nil)
	req.Header.Set("Authorization", "Bearer something")
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	h := setupServer(t)
	_, token := h.register(t)
	h.seedTicks("10", "9.99", "10")

	rec := h.do(t, http.MethodPost, "/orders/", token, map[string]interface{}{
		"symbol":    "600519",
		"exchange":  "SH",
		"volume":    10000000,
		"price":     "10",
		"orderType": "buy",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient")
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	h := setupServer(t)
	_, token := h.register(t)
	h.seedTicks("10", "9.99", "10")

	rec := h.do(t, http.MethodPost, "/orders/", token, map[string]interface{}{
		"symbol":    "600519",
		"exchange":  "SH",
		"volume":    100,
		"price":     "10",
		"orderType": "buy",
		"tradeType": "T0",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		EntrustID string `json:"entrustId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.EntrustID)

	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/orders/"+created.EntrustID, token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var order domain.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
			return false
		}
		return order.Status == domain.OrderStatusAllFinished
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/statement/", token, nil)
		var resp struct {
			Count int `json:"count"`
		}
		return rec.Code == http.StatusOK &&
			json.Unmarshal(rec.Body.Bytes(), &resp) == nil && resp.Count == 1
	}, 3*time.Second, 20*time.Millisecond)

	rec = h.do(t, http.MethodGet, "/position/", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var posResp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posResp))
	require.Equal(t, 1, posResp.Count)
}

func TestCancelOverHTTP(t *testing.T) {
	h := setupServer(t)
	_, token := h.register(t)
	h.seedTicks("10", "9.99", "10")

	rec := h.do(t, http.MethodPost, "/orders/", token, map[string]interface{}{
		"symbol":    "600519",
		"exchange":  "SH",
		"volume":    100,
		"price":     "9",
		"orderType": "buy",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		EntrustID string `json:"entrustId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodDelete, "/orders/entrust_orders/"+created.EntrustID, token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		check := h.do(t, http.MethodGet, "/orders/"+created.EntrustID, token, nil)
		var order domain.Order
		return json.Unmarshal(check.Body.Bytes(), &order) == nil &&
			order.Status == domain.OrderStatusCanceled
	}, 3*time.Second, 50*time.Millisecond)
}

func TestAdjustCash(t *testing.T) {
	h := setupServer(t)
	_, token := h.register(t)

	rec := h.do(t, http.MethodPut, "/users/cash", token, map[string]string{"availableCash": "1100000"})
	require.Equal(t, http.StatusOK, rec.Code)

	var user domain.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "1100000", user.Cash.String())
	require.Equal(t, "1100000", user.AvailableCash.String())
	require.Equal(t, "1100000", user.Assets.String())
}

func TestTerminate(t *testing.T) {
	h := setupServer(t)
	_, token := h.register(t)

	rec := h.do(t, http.MethodPut, "/users/terminate", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The purged account no longer authenticates.
	rec = h.do(t, http.MethodGet, "/position/", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualImport(t *testing.T) {
	h := setupServer(t)
	_, token := h.register(t)
	h.seedTicks("15", "14.99", "15.01")

	rec := h.do(t, http.MethodPost, "/position/manual_import", token, map[string]interface{}{
		"symbol":   "600519",
		"exchange": "SH",
		"volume":   200,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var position domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &position))
	require.Equal(t, int64(200), position.Volume)
	require.Equal(t, "15", position.Cost.String())

	rec = h.do(t, http.MethodGet, "/statement/?category=buy", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
}
