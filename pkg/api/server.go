package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/stake"
)

// CallerHeader carries the authenticated caller address, set by the
// fronting proxy
const CallerHeader = "X-Caller"

var errBadRequest = errors.New("bad request")

type Options struct {
	CORSOrigins []string
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *stake.App
	router  *mux.Router
	hub     *Hub // WebSocket hub
	handler http.Handler
	logger  *zap.SugaredLogger
	httpSrv *http.Server
}

// NewServer creates a new API server. hub is shared with whatever feeds the
// app's event hook.
func NewServer(app *stake.App, hub *Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    hub,
		logger: opts.Logger,
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", CallerHeader},
	})
	s.handler = c.Handler(s.router)
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets", s.handleAddMarket).Methods("POST")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/{param:price|min-stake|stake-rate|tolerance}", s.handleChangeMarket).Methods("POST")
	api.HandleFunc("/markets/{id}/shutdown", s.handleShutdownMarket).Methods("POST")

	// Funds
	api.HandleFunc("/deposits/{role:client|provider}", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals/{role:client|provider}", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/confirm", s.handleConfirm).Methods("POST")
	api.HandleFunc("/orders/{id}/readings", s.handleReading).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/bilateral-cancel", s.handleBilateralCancel).Methods("POST")

	// Event history
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves on addr until Shutdown. It returns nil after a clean
// shutdown, including one that happened before Start.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Infow("api server starting", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// Market Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.Markets()
	out := make([]MarketInfo, len(markets))
	for i, m := range markets {
		out[i] = marketInfo(m)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	m, err := s.app.Market(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleAddMarket(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req AddMarketRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	amounts, err := parseAmounts(req.Price, req.MinStake, req.StakeRate, req.Tolerance)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := s.app.AddMarket(caller, amounts[0], amounts[1], amounts[2], amounts[3])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, IDResponse{ID: id.Hex()})
}

func (s *Server) handleChangeMarket(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req ValueRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	v, err := parseAmount(req.Value)
	if err != nil {
		s.fail(w, err)
		return
	}

	var change func(core.Identity, core.ID, *uint256.Int) error
	switch mux.Vars(r)["param"] {
	case "price":
		change = s.app.ChangePrice
	case "min-stake":
		change = s.app.ChangeMinStake
	case "stake-rate":
		change = s.app.ChangeStakeRate
	case "tolerance":
		change = s.app.ChangeTolerance
	}
	if err := change(caller, id, v); err != nil {
		s.fail(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleShutdownMarket(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.app.ShutdownMarket(caller, id); err != nil {
		s.fail(w, err)
		return
	}
	respondOK(w)
}

// ==============================
// Funds Handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}

	deposit := s.app.DepositClient
	if mux.Vars(r)["role"] == "provider" {
		deposit = s.app.DepositProvider
	}
	if err := deposit(caller, amount); err != nil {
		s.fail(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	withdraw := s.app.WithdrawClient
	if mux.Vars(r)["role"] == "provider" {
		withdraw = s.app.WithdrawProvider
	}
	amount, err := withdraw(caller)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, AmountResponse{Amount: amount.Dec()})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		respondError(w, http.StatusBadRequest, "invalid_address", "invalid address format")
		return
	}
	acct := common.HexToAddress(address)
	client, provider := s.app.Account(acct)
	respondJSON(w, AccountInfo{
		Address:  acct.Hex(),
		Client:   balanceInfo(client),
		Provider: balanceInfo(provider),
		Shared:   s.app.SharedLedger(),
	})
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	var marketID core.ID
	if q := r.URL.Query().Get("market"); q != "" {
		id, err := parseID(q)
		if err != nil {
			s.fail(w, err)
			return
		}
		marketID = id
	}
	orders := s.app.Orders(marketID)
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	o, ok := s.app.FindOrder(id)
	if !ok {
		s.fail(w, fmt.Errorf("order %s: %w", id.Hex(), core.ErrNotFound))
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req OrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	marketID, err := parseID(req.MarketID)
	if err != nil {
		s.fail(w, err)
		return
	}
	quantity, err := parseAmount(req.Quantity)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := s.app.Order(caller, marketID, quantity)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, IDResponse{ID: id.Hex()})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, s.app.Confirm)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, s.app.CancelOrder)
}

func (s *Server) handleBilateralCancel(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, s.app.BilateralCancelOrder)
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req ReadingRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	reading, err := parseAmount(req.Reading)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.app.CompleteOrder(caller, id, reading); err != nil {
		s.fail(w, err)
		return
	}
	respondOK(w)
}

func (s *Server) orderAction(w http.ResponseWriter, r *http.Request, op func(core.Identity, core.ID) error) {
	caller, id, err := callerAndID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := op(caller, id); err != nil {
		s.fail(w, err)
		return
	}
	respondOK(w)
}

// ==============================
// Events / Health
// ==============================

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		v, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			s.fail(w, fmt.Errorf("since %q: %w", q, errBadRequest))
			return
		}
		since = v
	}
	respondJSON(w, s.app.Events(since))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func callerOf(r *http.Request) (core.Identity, error) {
	h := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(h) {
		return core.Identity{}, fmt.Errorf("%s header %q: %w", CallerHeader, h, errBadRequest)
	}
	return common.HexToAddress(h), nil
}

func callerAndID(r *http.Request) (core.Identity, core.ID, error) {
	caller, err := callerOf(r)
	if err != nil {
		return core.Identity{}, core.ID{}, err
	}
	id, err := parseID(mux.Vars(r)["id"])
	return caller, id, err
}

func parseID(s string) (core.ID, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return core.ID{}, fmt.Errorf("id %q: %w", s, errBadRequest)
	}
	return common.BytesToHash(b), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, errBadRequest)
	}
	return v, nil
}

func parseAmounts(ss ...string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(ss))
	for i, s := range ss {
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, errBadRequest)
	}
	return nil
}

// statusOf maps the error taxonomy onto HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrInsufficientFunds), errors.Is(err, core.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	kind := core.Kind(err)
	if status == http.StatusBadRequest {
		kind = "bad_request"
	}
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request failed", "err", err)
	}
	respondError(w, status, kind, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondOK(w http.ResponseWriter) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
