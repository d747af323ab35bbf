package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

const dayFormat = "2006-01-02"

type registerRequest struct {
	Desc string `json:"desc"`
}

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// handleRegister opens a new account with the configured defaults and
// returns it with a bearer token. The account is seeded into the cache
// so it can trade immediately.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if r.Body != nil {
		// Body is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	defaults := s.cfg.User
	capital, err := decimal.NewFromString(defaults.Capital)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad default capital: %w", err))
		return
	}
	commission, err := decimal.NewFromString(defaults.Commission)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad default commission: %w", err))
		return
	}
	taxRate, err := decimal.NewFromString(defaults.TaxRate)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad default tax rate: %w", err))
		return
	}
	slippage, err := decimal.NewFromString(defaults.Slippage)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad default slippage: %w", err))
		return
	}

	user := &domain.User{
		ID:            domain.NewUserID(),
		Capital:       capital,
		Cash:          capital,
		AvailableCash: capital,
		Securities:    decimal.Zero,
		Assets:        capital,
		Commission:    commission,
		TaxRate:       taxRate,
		Slippage:      slippage,
		Status:        domain.UserStatusActivated,
		Desc:          req.Desc,
		CreatedAt:     time.Now(),
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.userCache.Set(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

type loginRequest struct {
	ID string `json:"id"`
}

// handleLogin re-issues a token for an existing account.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !domain.ValidUserID(req.ID) {
		s.writeError(w, domain.ErrInvalidUserID)
		return
	}

	user, err := s.userCache.GetByID(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if user == nil {
		// Off-session the cache may be cold; fall back to the store.
		user, err = s.users.GetByID(r.Context(), req.ID)
		if err != nil {
			s.writeError(w, domain.ErrInvalidUserID)
			return
		}
		if err := s.userCache.Set(r.Context(), user); err != nil {
			s.writeError(w, err)
			return
		}
	}

	token, err := s.auth.IssueToken(user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

type createOrderRequest struct {
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Volume    int64           `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"orderType"`
	TradeType string          `json:"tradeType"`
}

// handleCreateOrder submits a buy or sell order and returns its entrust
// id.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed order body"})
		return
	}

	orderType := domain.OrderType(req.OrderType)
	if orderType != domain.OrderTypeBuy && orderType != domain.OrderTypeSell {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "orderType must be buy or sell"})
		return
	}
	if req.Volume <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "volume must be positive"})
		return
	}

	order := &domain.Order{
		User:      requestUserID(r),
		Symbol:    req.Symbol,
		Exchange:  domain.Exchange(req.Exchange),
		Volume:    req.Volume,
		Price:     req.Price,
		OrderType: orderType,
		TradeType: domain.TradeType(req.TradeType),
	}

	entrustID, err := s.engine.OnOrderArrived(r.Context(), order)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"entrustId": entrustID})
}

// handleGetOrder returns one of the caller's orders.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	entrustID := chi.URLParam(r, "entrustID")

	order, err := s.orders.GetByEntrustID(r.Context(), entrustID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if order.User != requestUserID(r) {
		s.writeError(w, domain.ErrEntityDoesNotExist)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

// handleListOrders lists the caller's orders filtered by status and
// order-date range.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, v := range q["status"] {
		statuses = append(statuses, domain.OrderStatus(v))
	}

	start, err := parseDay(q.Get("startDate"), false)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	end, err := parseDay(q.Get("endDate"), true)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	orders, err := s.orders.List(r.Context(), requestUserID(r), statuses, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "count": len(orders)})
}

// handleCancelOrder issues a cancel for one of the caller's orders.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	entrustID := chi.URLParam(r, "entrustID")

	if err := s.engine.CancelOrder(r.Context(), requestUserID(r), entrustID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"entrustId": entrustID})
}

// handleListPositions lists the caller's positions from the session
// cache.
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.posCache.ListByUser(r.Context(), requestUserID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions, "count": len(positions)})
}

type manualImportRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Volume   int64  `json:"volume"`
}

// handleManualImport inserts an existing off-platform holding at the
// current quote, with a zero-cost statement for the audit trail.
func (s *Server) handleManualImport(w http.ResponseWriter, r *http.Request) {
	var req manualImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed import body"})
		return
	}
	exchange := domain.Exchange(req.Exchange)
	if !exchange.Valid() {
		s.writeError(w, domain.ErrInvalidExchange)
		return
	}

	userID := requestUserID(r)
	quote, err := s.quotes.GetTicks(r.Context(), domain.FormatStockCode(req.Symbol, exchange))
	if err != nil {
		s.writeError(w, err)
		return
	}

	position := &domain.Position{
		User:            userID,
		Symbol:          req.Symbol,
		Exchange:        exchange,
		Volume:          req.Volume,
		AvailableVolume: req.Volume,
		Cost:            quote.Current,
		CurrentPrice:    quote.Current,
		Profit:          decimal.Zero,
		FirstBuyDate:    time.Now(),
	}
	if err := s.positions.Create(r.Context(), position); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.posCache.Set(r.Context(), position); err != nil {
		s.writeError(w, err)
		return
	}

	statement := &domain.Statement{
		ID:            domain.NewEntrustID(),
		EntrustID:     domain.NewEntrustID(),
		User:          userID,
		Symbol:        req.Symbol,
		Exchange:      exchange,
		TradeCategory: domain.TradeCategoryBuy,
		Volume:        req.Volume,
		SoldPrice:     quote.Current,
		Amount:        decimal.Zero,
		Costs:         domain.ZeroCosts(),
		DealTime:      time.Now(),
	}
	if err := s.statements.Create(r.Context(), statement); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, position)
}

// handleGetUser returns an account from the session cache.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	user, err := s.userCache.GetByID(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if user == nil {
		s.writeError(w, domain.ErrEntityDoesNotExist)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// handleListUsers lists all accounts from the durable store.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "count": len(users)})
}

type adjustCashRequest struct {
	AvailableCash decimal.Decimal `json:"availableCash"`
}

// handleAdjustCash deposits or withdraws by moving the caller's
// available cash to the requested level. In-session only.
func (s *Server) handleAdjustCash(w http.ResponseWriter, r *http.Request) {
	var req adjustCashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed cash body"})
		return
	}
	if req.AvailableCash.IsNegative() {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "availableCash must not be negative"})
		return
	}

	user, err := s.engine.AdjustUserCash(r.Context(), requestUserID(r), req.AvailableCash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// handleTerminate closes the caller's account and purges its session
// projections.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	if err := s.userEngine.TerminateUser(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": userID, "status": string(domain.UserStatusTerminated)})
}

// handleListStatements lists the caller's trade records.
func (s *Server) handleListStatements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := domain.StatementQuery{
		UserID:    requestUserID(r),
		Symbol:    q.Get("symbol"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}
	for _, v := range q["category"] {
		query.Categories = append(query.Categories, domain.TradeCategory(v))
	}

	statements, err := s.statements.List(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if statements == nil {
		statements = []domain.Statement{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"statements": statements, "count": len(statements)})
}

// parseDay parses a YYYY-MM-DD query value into a time bound. The end
// bound covers the whole named day.
func parseDay(v string, end bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dayFormat, v, time.Local)
	if err != nil {
		return nil, fmt.Errorf("bad date %q, want YYYY-MM-DD", v)
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return &t, nil
}
