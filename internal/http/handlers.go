package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/reservation-notifier/internal/confirm"
	"github.com/example/reservation-notifier/internal/notify"
	"github.com/example/reservation-notifier/internal/storage"
)

const (
	livenessMessage = "✅ Service DriverPro Notifications actif."
	maxBodyBytes    = 1 << 20
)

// Confirmer runs the confirm workflow; see confirm.Service.
type Confirmer interface {
	Confirm(ctx context.Context, reservationID, driverID string) error
}

// Pinger is implemented by store backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Confirmer Confirmer
	// Ready is checked by /ready. Nil means always ready.
	Ready  Pinger
	logger *slog.Logger
	mux    *mux.Router
	h      http.Handler
}

func NewServer(confirmer Confirmer, ready Pinger, logger *slog.Logger) *Server {
	s := &Server{Confirmer: confirmer, Ready: ready, logger: logger, mux: mux.NewRouter()}
	s.routes()
	s.registerMiddleware()
	s.h = corsMiddleware(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/reservations/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.h.ServeHTTP(w, r) }

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, livenessMessage)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

type confirmRequest struct {
	DriverID string `json:"driverId"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	reservationID := mux.Vars(r)["id"]

	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.Confirmer.Confirm(r.Context(), reservationID, req.DriverID); err != nil {
		status, body := s.confirmFailure(err)
		s.logger.Error("confirm reservation failed",
			"reservation_id", reservationID,
			"driver_id", req.DriverID,
			"status", status,
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeJSON(w, status, map[string]any{"error": body})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// confirmFailure maps a workflow error onto a status and the error payload.
// Provider details are surfaced as-is when the provider returned them.
func (s *Server) confirmFailure(err error) (int, any) {
	switch {
	case errors.Is(err, confirm.ErrMissingDriverID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "reservation or driver not found"
	}
	var pe *notify.ProviderError
	if errors.As(err, &pe) {
		if pe.Detail != nil {
			return http.StatusInternalServerError, pe.Detail
		}
		if pe.Message != "" {
			return http.StatusInternalServerError, pe.Message
		}
	}
	return http.StatusInternalServerError, "confirmation failed"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
