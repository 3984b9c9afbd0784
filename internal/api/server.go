package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/eigerco/trustbond/internal/bonding"
	"github.com/eigerco/trustbond/internal/metrics"
)

// Options configures the HTTP surface.
type Options struct {
	// AdminToken authenticates admin routes and activity reports.
	AdminToken     string
	AllowedOrigins []string
	// Limiter rate limits every route when set.
	Limiter *RateLimiter
}

// Server exposes an Engine over JSON/HTTP. Participant routes trust the
// caller field of the request; deploy behind a gateway that authenticates it.
type Server struct {
	engine  *bonding.Engine
	opts    Options
	router  *chi.Mux
	handler http.Handler
}

func NewServer(engine *bonding.Engine, opts Options) *Server {
	s := &Server{
		engine: engine,
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupRoutes()

	s.handler = s.router
	if len(opts.AllowedOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler(s.router)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer wraps the handler with the timeouts used by the daemon.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	if s.opts.Limiter != nil {
		s.router.Use(s.opts.Limiter.Middleware)
	}

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.Route("/v1", func(r chi.Router) {
		r.Route("/epochs", func(r chi.Router) {
			r.Get("/current", s.handleCurrentEpoch)
			r.Get("/{epoch}", s.handleEpoch)
			r.Get("/{epoch}/emissions", s.handleEmissions)
			r.Get("/{epoch}/total", s.handleTotal)
			r.Get("/{epoch}/utilization", s.handleSystemUtilization)
			r.Get("/{epoch}/unclaimed", s.handleUnclaimed)
		})
		r.Route("/participants/{address}", func(r chi.Router) {
			r.Get("/", s.handleUserInfo)
			r.Get("/lock", s.handleLock)
			r.Get("/balance", s.handleBalance)
			r.Get("/apy", s.handleAPY)
			r.Get("/claimable", s.handleClaimable)
			r.Get("/utilization/{epoch}", s.handlePersonalUtilization)
			r.Get("/claims/{epoch}", s.handleClaimStatus)
		})

		r.Post("/locks", s.handleCreateLock)
		r.Post("/locks/increase-amount", s.handleIncreaseAmount)
		r.Post("/locks/increase-unlock-time", s.handleIncreaseUnlockTime)
		r.Post("/locks/increase", s.handleIncreaseAmountAndTime)
		r.Post("/locks/withdraw", s.handleWithdraw)
		r.Post("/locks/deposit-for", s.handleDepositFor)
		r.Post("/claims", s.handleClaim)
		r.Post("/checkpoint", s.handleCheckpoint)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/activity", s.handleRecordActivity)
			r.Put("/admin/floors", s.handleSetFloors)
			r.Post("/admin/global-unlock", s.handleGlobalUnlock)
		})
	})
}

// requireToken checks the admin bearer token in constant time.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorized(w, errMissingToken)
			return
		}
		if s.opts.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			unauthorized(w, errBadToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}
