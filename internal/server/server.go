package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/gptmeet/walletcore/internal/config"
	"github.com/gptmeet/walletcore/internal/routes"
	"github.com/gptmeet/walletcore/internal/session"
)

// Server wraps the Fiber application, the device session and shared dependencies.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	session *session.Session
	logger  *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName: cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		ErrorHandler: errorHandler,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sess, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Registry: registry})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, session: sess, logger: logger}, nil
}

// writeTimeout leaves room to answer a payment that used its whole budget.
func writeTimeout(cfg config.Config) time.Duration {
	return cfg.PaymentBudget() + 30*time.Second
}

// Listen restores the device wallet and starts the HTTP server.
func (s *Server) Listen() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.session.Open(ctx); err != nil {
		return err
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server and background balance sync.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.session.Close()
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders every error as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
