package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/JAGGU8160/blog-app/config"
	"github.com/JAGGU8160/blog-app/internal/auth"
	"github.com/JAGGU8160/blog-app/internal/db"
	"github.com/JAGGU8160/blog-app/internal/handlers"
	"github.com/JAGGU8160/blog-app/internal/logging"
	"github.com/JAGGU8160/blog-app/internal/mail"
	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/mq"
	"github.com/JAGGU8160/blog-app/internal/render"
	"github.com/JAGGU8160/blog-app/internal/services"
	"github.com/JAGGU8160/blog-app/internal/storage"
	"github.com/JAGGU8160/blog-app/internal/store"
)

const routeTimeout = 60 * time.Second

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	objects    *storage.Storage
	broker     *mq.Broker
	log        logrus.FieldLogger
}

// Deps is everything the router needs. New fills it from configuration;
// tests can assemble it from fakes.
type Deps struct {
	DB           handlers.DBQuerier
	Tokens       *auth.TokenIssuer
	Auth         *services.AuthService
	Posts        *services.PostService
	Uploads      *services.UploadService
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Log          logrus.FieldLogger
	ClientOrigin string
	// UploadDir is served under /uploads/ when non-empty.
	UploadDir string
}

// New opens the database, builds every service from cfg and wires the router.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	renderer, err := render.New(cfg.Render.CacheSize)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objects, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	var broker *mq.Broker
	if cfg.Mail.Transport == config.MailTransportQueue {
		broker, err = mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			closeAll(dbConn, objects, nil)
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	sender, err := mail.NewSender(cfg.Mail, broker)
	if err != nil {
		closeAll(dbConn, objects, broker)
		return nil, err
	}
	sender = mail.Instrumented(sender, cfg.Mail.Transport, m.MailSentTotal)

	hasher := auth.NewPasswordHasher(bcryptCost(cfg.Auth.BcryptCost))
	uploads := services.NewUploadService(objects, cfg.Storage.PublicURL, cfg.Storage.MaxBytes, m)
	deps := Deps{
		DB:           dbConn,
		Tokens:       tokens,
		Auth:         services.NewAuthService(store.NewUserRepository(dbConn), hasher, tokens, sender, cfg.Auth.OTPTTL, m),
		Posts:        services.NewPostService(store.NewPostRepository(dbConn), uploads, renderer, m),
		Uploads:      uploads,
		Metrics:      m,
		Gatherer:     registry,
		Log:          log,
		ClientOrigin: cfg.ClientOrigin,
	}
	if cfg.Storage.Backend == config.StorageBackendLocal {
		deps.UploadDir = cfg.Storage.Local.Dir
	}

	router := NewRouter(deps)

	port := cfg.ServerPort
	if port == 0 {
		port = 5000
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      routeTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		objects:    objects,
		broker:     broker,
		log:        log,
	}, nil
}

// NewRouter mounts the API on a chi router with the standard middleware stack.
func NewRouter(deps Deps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(deps.Log),
		middleware.Recoverer,
		deps.Metrics.Middleware,
		middleware.Timeout(routeTimeout),
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{deps.ClientOrigin},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)

	requireAuth := handlers.RequireAuth(deps.Tokens)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health(deps.DB, deps.Log))
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, deps.Auth, requireAuth, deps.Log)
		})
		r.Route("/posts", func(r chi.Router) {
			handlers.PostRouter(r, deps.Posts, requireAuth, deps.Log)
		})
		r.With(requireAuth).Post("/upload", handlers.NewUploadHandler(deps.Uploads, deps.Log).Upload)
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	if deps.UploadDir != "" {
		files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(deps.UploadDir)))
		router.Get("/uploads/*", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/") {
				http.NotFound(w, r)
				return
			}
			files.ServeHTTP(w, r)
		})
	}

	return router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database, object
// storage and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	closeAll(s.db, s.objects, s.broker)
	return err
}

func closeAll(dbConn *sql.DB, objects *storage.Storage, broker *mq.Broker) {
	if broker != nil {
		_ = broker.Close()
	}
	if objects != nil {
		_ = objects.Close()
	}
	if dbConn != nil {
		_ = dbConn.Close()
	}
}

func bcryptCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}
