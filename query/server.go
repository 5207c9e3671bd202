package query

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cwchain/core"
)

// defaultRateLimit mirrors the teacher VM's own HTTP boundary: a steady
// request rate with headroom for bursts, not a precisely tuned budget.
const (
	defaultRateLimit = 200
	defaultBurst     = 100
)

// Server is the chi-routed HTTP boundary over a Router: POST /query accepts
// a JSON-encoded QueryRequest and returns its QueryResponse, GET /healthz
// is a liveness probe.
type Server struct {
	router  *Router
	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewServer builds a Server over router. log may be nil, in which case the
// standard logger is used.
func NewServer(router *Router, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		router:  router,
		limiter: rate.NewLimiter(defaultRateLimit, defaultBurst),
		log:     log,
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler builds the chi router backing this Server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.rateLimit)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/query", s.handleQuery)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req core.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.router.Route(req)
	if err != nil {
		s.log.WithField("variant", req.Variant()).WithError(err).Warn("query failed")
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Warn("failed to encode query response")
	}
}

// ListenAndServe builds an *http.Server around Handler and runs it,
// matching the teacher's own timeout choices for its HTTP boundary.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	s.log.WithField("addr", addr).Info("query server listening")
	return srv.ListenAndServe()
}
