package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
	"tradexec/internal/engine"
	"tradexec/internal/store"
)

// Server serves the execution API.
type Server struct {
	engine  *engine.Engine
	trades  *store.ParquetStore // nil disables date-based trade history
	log     *slog.Logger
	started time.Time
}

// NewServer creates the API server. trades may be nil.
func NewServer(eng *engine.Engine, trades *store.ParquetStore, log *slog.Logger) *Server {
	return &Server{
		engine:  eng,
		trades:  trades,
		log:     log,
		started: time.Now(),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("POST /api/orders", s.handleSubmitSignal)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("POST /api/signals/execute", s.handleSubmitSignal)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/inconsistencies", s.handleInconsistencies)
	mux.HandleFunc("GET /api/stream", s.handleStream)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSignal), errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:  "ok",
		Service: "tradexec",
		Venue:   s.engine.VenueName(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	sig := domain.Signal{
		Symbol:         req.Symbol,
		Side:           domain.Side(req.Side),
		Qty:            req.Qty,
		LimitPrice:     req.LimitPrice,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	orderID, err := s.engine.SubmitSignal(r.Context(), sig)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{OrderID: orderID, Status: string(domain.OrderStatusPending)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.GetOrder(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, convertOrder(order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter := engine.ListFilter{
		Status: domain.OrderStatus(r.URL.Query().Get("status")),
		Symbol: r.URL.Query().Get("symbol"),
	}
	orders := s.engine.ListOrders(filter)
	out := make([]OrderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, convertOrder(o))
	}
	writeJSON(w, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.CancelOrder(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	order, err := s.engine.GetOrder(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, convertOrder(order))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	pf := s.engine.Portfolio()

	positions := make([]PositionJSON, 0, len(pf.Positions))
	for _, pos := range pf.Positions {
		positions = append(positions, PositionJSON{
			Symbol:      pos.Symbol,
			Qty:         pos.Qty,
			AvgCost:     pos.AvgCost,
			RealizedPnL: pos.RealizedPnL,
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	writeJSON(w, PortfolioResponse{
		Cash:      pf.Cash,
		Positions: positions,
		UpdatedAt: pf.UpdatedAt,
	})
}

// handleTrades returns applied fills. Without a date it serves the in-memory
// session history; with ?date=YYYY-MM-DD it reads the Parquet export.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		fills := s.engine.Fills()
		out := make([]FillJSON, 0, len(fills))
		for _, f := range fills {
			out = append(out, convertFill(f))
		}
		writeJSON(w, TradesResponse{Trades: out})
		return
	}

	if s.trades == nil {
		writeError(w, http.StatusNotFound, "trade history export is not configured")
		return
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	records, err := s.trades.ReadFills(day)
	if err != nil {
		s.log.Error("reading trade history", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "reading trade history")
		return
	}
	out := make([]FillJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, FillJSON{
			OrderID:   rec.OrderID,
			Symbol:    rec.Symbol,
			Side:      rec.Side,
			Seq:       rec.Seq,
			Qty:       decimal.NewFromFloat(rec.Qty),
			Price:     decimal.NewFromFloat(rec.Price),
			Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
		})
	}
	writeJSON(w, TradesResponse{Date: date, Trades: out})
}

func (s *Server) handleInconsistencies(w http.ResponseWriter, r *http.Request) {
	incs := s.engine.Inconsistencies()
	out := make([]InconsistencyJSON, 0, len(incs))
	for _, inc := range incs {
		out = append(out, InconsistencyJSON{
			OrderID:   inc.OrderID,
			Seq:       inc.Seq,
			EventType: inc.EventType,
			Reason:    inc.Reason,
			Timestamp: inc.Timestamp,
		})
	}
	writeJSON(w, out)
}

// handleStream upgrades to a websocket and forwards order events until the
// client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	feed := s.engine.Feed()
	id, events := feed.Subscribe(64)
	defer feed.Unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			frame := StreamEvent{
				Type:  evt.Type,
				Order: convertOrder(evt.Order),
				At:    evt.At,
			}
			if evt.Fill != nil {
				f := convertFill(*evt.Fill)
				frame.Fill = &f
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
		}
	}
}
