package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"payment-gateway/internal/boltstore"
	"payment-gateway/internal/config"
	"payment-gateway/internal/domain"
	"payment-gateway/internal/handler"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/registry"
	"payment-gateway/internal/repository"
	"payment-gateway/internal/service"
)

// Server wires the storage backend, the delegate client, the
// pending-challenge registry, and the HTTP surface together.
type Server struct {
	router *mux.Router
	server *http.Server
	logger *slog.Logger
	port   string

	db        *sql.DB
	boltStore *boltstore.Store
	pinger    domain.Pinger

	client         *processor.HTTPClient
	paymentService *service.PaymentService
	embeddedSim    bool
}

type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{logger: logger}

	var store domain.TransactionStore
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.GetDBConnectionString())
		if err != nil {
			return nil, err
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}

		s.db = db
		s.pinger = dbPinger{db: db}
		store = repository.NewTransactionRepository(db, logger)
		logger.Info("Successfully connected to database")
	case "bolt":
		bs, err := boltstore.Open(cfg.BoltPath, logger)
		if err != nil {
			return nil, err
		}
		s.boltStore = bs
		s.pinger = bs
		store = bs
		logger.Info("Opened embedded store", "path", cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}

	// Initialize services
	s.client = processor.NewClient(cfg.ProcessorURL, cfg.ProcessorAttempts, cfg.ProcessorBackoffBase, logger)
	webhookService := service.NewWebhookService(store, logger)
	reg := registry.New(registry.NewScheduler(), webhookService, cfg.ChallengeTTL, cfg.ResolveDelay, logger)
	s.paymentService = service.NewPaymentService(store, s.client, reg, logger)

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(s.paymentService)
	webhookHandler := handler.NewWebhookHandler(webhookService, s.paymentService)

	// Setup router
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Payment routes
	router.HandleFunc("/payments", paymentHandler.CreatePayment).Methods("POST")
	router.HandleFunc("/payments/{payment_id}", paymentHandler.GetPayment).Methods("GET")
	router.HandleFunc("/payments/challenges/{external_id}/complete", webhookHandler.CompleteChallenge).Methods("POST")

	// Notification callback
	router.HandleFunc("/webhooks/payments", webhookHandler.HandleNotification).Methods("POST")

	// Without a configured processor the embedded simulator serves the
	// delegate role from the same listener.
	if cfg.ProcessorURL == "" {
		sim := processor.NewSimulator(logger, cfg.NotifyDelay)
		sim.AppendRoutes(router)
		s.embeddedSim = true
	}

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "storage unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	s.router = router
	return s, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// The gateway's own callback endpoints are only addressable once
	// the port is known.
	baseURL := s.GetBaseURL()
	s.paymentService.SetEndpoints(baseURL+"/webhooks/payments", baseURL+"/payments/failed")
	if s.embeddedSim {
		s.client.SetBaseURL(baseURL)
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if s.db != nil {
		s.db.Close()
	}
	if s.boltStore != nil {
		s.boltStore.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
