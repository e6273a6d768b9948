package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"crypto-tracker/internal/alert"
	"crypto-tracker/internal/chart"
	"crypto-tracker/internal/database"
	"crypto-tracker/internal/portfolio"
	"crypto-tracker/internal/price"
	"crypto-tracker/internal/realtime"
	"crypto-tracker/internal/types"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

// Store is the record store behind the asset and alert endpoints.
type Store interface {
	CreateAsset(ctx context.Context, asset types.Asset) (types.Asset, error)
	ListAssets(ctx context.Context) ([]types.Asset, error)
	UpdateAssetAmount(ctx context.Context, id int64, amount float64) (types.Asset, error)
	DeleteAsset(ctx context.Context, id int64) error

	CreateAlert(ctx context.Context, alert types.PriceAlert) (types.PriceAlert, error)
	ListAlerts(ctx context.Context, status types.AlertStatus) ([]types.PriceAlert, error)
	CancelAlert(ctx context.Context, id int64) (types.PriceAlert, error)
	DeleteAlert(ctx context.Context, id int64) error
}

type Checker interface {
	CheckActive(ctx context.Context) (alert.CheckResult, error)
}

type SchedulerStatus interface {
	Status() alert.Status
}

type Server struct {
	store     Store
	portfolio *portfolio.Service
	checker   Checker
	scheduler SchedulerStatus
	market    price.Lister
	hub       *realtime.Hub
	retention time.Duration
	router    *mux.Router
	upgrader  websocket.Upgrader
}

type Options struct {
	Store     Store
	Portfolio *portfolio.Service
	Checker   Checker
	Scheduler SchedulerStatus
	Market    price.Lister
	Hub       *realtime.Hub
	Retention time.Duration
}

func NewServer(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = realtime.NewHub()
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	s := &Server{
		store:     opts.Store,
		portfolio: opts.Portfolio,
		checker:   opts.Checker,
		scheduler: opts.Scheduler,
		market:    opts.Market,
		hub:       opts.Hub,
		retention: opts.Retention,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(corsMiddleware, loggingMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	r.HandleFunc("/portfolio/assets", s.handleListAssets).Methods(http.MethodGet)
	r.HandleFunc("/portfolio/assets", s.handleCreateAsset).Methods(http.MethodPost)
	r.HandleFunc("/portfolio/assets/{id}", s.handleUpdateAsset).Methods(http.MethodPut)
	r.HandleFunc("/portfolio/assets/{id}", s.handleDeleteAsset).Methods(http.MethodDelete)
	r.HandleFunc("/portfolio/valuation", s.handleValuation).Methods(http.MethodGet)
	r.HandleFunc("/portfolio/diversification", s.handleDiversification).Methods(http.MethodGet)
	r.HandleFunc("/portfolio/history/save", s.handleSaveSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/portfolio/history/chart", s.handleHistoryChart).Methods(http.MethodGet)
	r.HandleFunc("/portfolio/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/portfolio/history", s.handlePurgeHistory).Methods(http.MethodDelete)

	r.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts/check", s.handleCheckAlerts).Methods(http.MethodPost)
	r.HandleFunc("/alerts/status", s.handleSchedulerStatus).Methods(http.MethodGet)
	r.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)
	r.HandleFunc("/alerts/{id}/cancel", s.handleCancelAlert).Methods(http.MethodPost)

	r.HandleFunc("/market/top", s.handleMarketTop).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Crypto-Tracker API",
		"version": version,
		"endpoints": map[string]string{
			"portfolio": "/portfolio/assets, /portfolio/valuation, /portfolio/diversification",
			"alerts":    "/alerts, /alerts/check, /alerts/status",
			"history":   "/portfolio/history, /portfolio/history/chart",
			"market":    "/market/top",
			"stream":    "/ws",
		},
	})
}

func (s *Server) handleMarketTop(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 10)
	if err != nil || limit < 1 || limit > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 100"})
		return
	}

	listings, err := s.market.TopListings(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"top_cryptos": listings})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	s.hub.AddClient(conn)

	if s.scheduler != nil {
		_ = s.hub.Send(conn, realtime.Message{Type: "scheduler_status", Data: s.scheduler.Status()})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.RemoveClient(conn)
			return
		}
	}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error {
	return &validationError{msg: msg}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		upstream   *price.UpstreamError
		timeout    *price.TimeoutError
		internal   *price.InternalError
		validation *validationError
	)
	switch {
	case errors.As(err, &validation), errors.Is(err, portfolio.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound), errors.Is(err, chart.ErrNotEnoughData):
		return http.StatusNotFound
	case errors.Is(err, database.ErrNotActive):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &internal):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("invalid id")
	}
	return id, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(name + " must be an integer")
	}
	return v, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("invalid JSON body: " + err.Error())
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}
