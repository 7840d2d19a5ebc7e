// Package api exposes the HTTP and websocket surface of the monitor.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nir-backend/internal/metrics"
	"nir-backend/internal/models"
	"nir-backend/internal/session"
)

const (
	maxMessageBytes = 64 << 10
	maxReportBytes  = 16 << 20
)

// Engine is the inference pipeline plus the wavelength axis it serves
type Engine interface {
	session.Engine
	Wavelengths() []float64
}

// HistoryStore answers history queries. *database.ClickHouseDB implements it.
type HistoryStore interface {
	GetShiftSummary(ctx context.Context, since time.Time, threshold float64) (*models.ReportSummary, error)
	GetRecentSessions(ctx context.Context, limit int) ([]models.SessionSummary, error)
}

// Config holds the API settings
type Config struct {
	AllowedOrigins []string
	Defaults       models.SimulationConfig
}

// Server wires the handlers to the shared services. history may be nil when
// persistence is disabled.
type Server struct {
	ctx      context.Context
	config   Config
	engine   Engine
	registry *session.Registry
	sink     session.EventSink
	history  HistoryStore
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates the API. Streaming sessions end when ctx is cancelled.
func NewServer(
	ctx context.Context,
	config Config,
	engine Engine,
	registry *session.Registry,
	sink session.EventSink,
	history HistoryStore,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.New()
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		ctx:      ctx,
		config:   config,
		engine:   engine,
		registry: registry,
		sink:     sink,
		history:  history,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16384,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleStatus())
	r.Get("/ws/simulation", s.handleSimulation())
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleConfig())
		r.Post("/report", s.handleReport())
		r.Get("/sessions", s.handleSessions())

		r.Route("/history", func(r chi.Router) {
			r.Use(s.requireHistory)

			r.Get("/summary", s.handleHistorySummary())
			r.Get("/sessions", s.handleHistorySessions())
		})
	})

	return r
}

func (s *Server) handleStatus() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "NIR quality monitor API is running."})
	}
}

func (s *Server) handleConfig() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"wavelengths": s.engine.Wavelengths()})
	}
}

func (s *Server) handleSessions() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.registry.Snapshot()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(resp)
}

func sendError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
