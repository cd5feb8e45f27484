package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/billing"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/token"
)

// NearbyFinder reads the driver position mirror. Nil when Redis is not
// configured.
type NearbyFinder interface {
	Nearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]models.DriverLocation, error)
}

// Server exposes every engine operation over plain HTTP. The websocket
// endpoints carry the live traffic; these routes are the fallback a
// client or driver uses when its socket is down, so every mutating
// event has a POST twin here.
type Server struct {
	Engine    *dispatch.Engine
	Locations NearbyFinder
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(engine *dispatch.Engine, loc NearbyFinder, logger *slog.Logger) *Server {
	s := &Server{Engine: engine, Locations: loc, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	// client side
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleClientCancel).Methods("POST")
	api.HandleFunc("/orders/{id}/chat", s.handleClientChat).Methods("POST")
	api.HandleFunc("/orders/{id}/payment/retry", s.handleRetryPayment).Methods("POST")
	api.HandleFunc("/orders/{id}/payment/cash", s.handleSwitchToCash).Methods("POST")

	// driver side, authenticated by session id
	api.HandleFunc("/driver/session", s.handleAnnounce).Methods("POST")
	api.HandleFunc("/driver/online", s.handleSetOnline).Methods("POST")
	api.HandleFunc("/driver/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/orders/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/orders/{id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/orders/{id}/status", s.handleUpdateStatus).Methods("POST")
	api.HandleFunc("/orders/{id}/stops/start", s.handleStartStop).Methods("POST")
	api.HandleFunc("/orders/{id}/stops/end", s.handleEndStop).Methods("POST")
	api.HandleFunc("/orders/{id}/payment/confirm", s.handleConfirmPayment).Methods("POST")

	api.HandleFunc("/drivers/nearby", s.handleNearby).Methods("GET")

	s.mux.HandleFunc("/ws/driver", s.handleDriverWS)
	s.mux.HandleFunc("/ws/client", s.handleClientWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req dispatch.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, tok, err := s.Engine.CreateOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": o, "order_token": tok})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	o, err := s.Engine.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type clientRequest struct {
	OrderToken string  `json:"order_token"`
	Reason     string  `json:"reason,omitempty"`
	Body       string  `json:"body,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lon        float64 `json:"lon,omitempty"`
}

func (s *Server) handleClientCancel(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Engine.ClientCancel(r.Context(), orderID, req.OrderToken, "", req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleClientChat(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Engine.ClientChat(r.Context(), orderID, req.OrderToken, "", req.Body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Engine.RetryPayment(r.Context(), orderID, req.OrderToken, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleSwitchToCash(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Engine.SwitchToCash(r.Context(), orderID, req.OrderToken, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type announceRequest struct {
	SessionID string `json:"session_id,omitempty"`
	DriverID  string `json:"driver_id"`
	Name      string `json:"name"`
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry, err := s.Engine.Announce(r.Context(), req.SessionID, req.DriverID, req.Name, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": entry.ID, "online": entry.Online})
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Engine.SetOnline(r.Context(), sessionID(r), req.Online); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string  `json:"order_id,omitempty"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Engine.ReportLocation(r.Context(), sessionID(r), req.OrderID, req.Lat, req.Lon); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	o, err := s.Engine.Accept(r.Context(), sessionID(r), orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	s.Engine.Decline(r.Context(), sessionID(r), mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req struct {
		Status         models.OrderStatus `json:"status"`
		WaitingMinutes float64            `json:"waiting_minutes,omitempty"`
		ArrivedAt      *time.Time         `json:"arrived_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Engine.UpdateStatus(r.Context(), sessionID(r), orderID, req.Status, req.WaitingMinutes, req.ArrivedAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleStartStop(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req struct {
		Stop           int     `json:"stop"`
		ElapsedSeconds float64 `json:"elapsed_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Engine.StartPaidStop(r.Context(), sessionID(r), orderID, req.Stop, req.ElapsedSeconds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleEndStop(w http.ResponseWriter, r *http.Request) {
	o, err := s.Engine.EndPaidStop(r.Context(), sessionID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req struct {
		Method models.PaymentMethod `json:"method,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := s.Engine.ConfirmPayment(r.Context(), sessionID(r), orderID, req.Method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.Locations == nil {
		http.Error(w, "location store not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	lat := parseFloat(q.Get("lat"))
	lon := parseFloat(q.Get("lon"))
	radius := parseFloat(q.Get("radius_m"))
	if radius <= 0 {
		radius = 5000
	}
	locs, err := s.Locations.Nearby(r.Context(), lat, lon, radius, 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

// sessionID reads the driver session from the header, falling back to a
// query parameter for simple clients.
func sessionID(r *http.Request) string {
	if v := r.Header.Get("X-Session-ID"); v != "" {
		return v
	}
	return r.URL.Query().Get("session_id")
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrOrderTaken), errors.Is(err, storage.ErrConflict),
		errors.Is(err, billing.ErrPaymentInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, billing.ErrNotSettleable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, lifecycle.ErrNotAssigned), errors.Is(err, token.ErrTokenMismatch),
		errors.Is(err, token.ErrTokenBound):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, session.ErrUnknownSession):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, dispatch.ErrInvalidOrder):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
