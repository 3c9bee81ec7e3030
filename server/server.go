// Package server exposes the facilitator over HTTP: the x402 facilitator
// endpoints (/supported, /verify, /settle, /fee/quote), settlement record
// lookup, and the Prometheus metrics listener.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	facilitator "github.com/vitwit/x402-tron-facilitator"
	"github.com/vitwit/x402-tron-facilitator/config"
	"github.com/vitwit/x402-tron-facilitator/logger"
)

const apiKeyHeader = "X-API-Key"
const requestIDHeader = "X-Request-ID"

// Server serves the facilitator API.
type Server struct {
	app  *fiber.App
	fac  *facilitator.Facilitator
	cfg  config.RateLimitConfig
	log  logger.Logger
	keys map[string]struct{}
}

func New(fac *facilitator.Facilitator, rateLimit config.RateLimitConfig, log logger.Logger) *Server {
	if log == nil {
		log = logger.NoopLogger{}
	}

	s := &Server{
		app:  fiber.New(fiber.Config{DisableStartupMessage: true}),
		fac:  fac,
		cfg:  rateLimit,
		log:  log,
		keys: make(map[string]struct{}, len(rateLimit.APIKeys)),
	}
	for _, key := range rateLimit.APIKeys {
		s.keys[key] = struct{}{}
	}

	s.app.Use(recover.New())
	s.app.Use(s.requestID)
	if limiterMiddleware := s.rateLimiter(); limiterMiddleware != nil {
		s.app.Use(limiterMiddleware)
	}

	s.app.Get("/supported", s.handleSupported)
	s.app.Post("/verify", s.handleVerify)
	s.app.Post("/settle", s.handleSettle)
	s.app.Post("/fee/quote", s.handleFeeQuote)
	s.app.Get("/payments/:id", s.handlePayment)

	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(host string, port int) error {
	return s.app.Listen(fmt.Sprintf("%s:%d", host, port))
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) requestID(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDHeader, id)
	c.Locals("requestID", id)
	return c.Next()
}

// rateLimiter applies the authenticated tier to callers presenting a known
// API key and the anonymous per-IP tier to everyone else. A tier with no
// limit configured passes through.
func (s *Server) rateLimiter() fiber.Handler {
	if s.cfg.Authenticated <= 0 && s.cfg.Anonymous <= 0 {
		return nil
	}

	newTier := func(max int, keyGen func(*fiber.Ctx) string) fiber.Handler {
		return limiter.New(limiter.Config{
			Max:          max,
			Expiration:   time.Minute,
			KeyGenerator: keyGen,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Rate limit exceeded",
				})
			},
		})
	}

	var authTier, anonTier fiber.Handler
	if s.cfg.Authenticated > 0 {
		authTier = newTier(s.cfg.Authenticated, func(c *fiber.Ctx) string {
			return "key:" + c.Get(apiKeyHeader)
		})
	}
	if s.cfg.Anonymous > 0 {
		anonTier = newTier(s.cfg.Anonymous, func(c *fiber.Ctx) string {
			return "ip:" + c.IP()
		})
	}

	return func(c *fiber.Ctx) error {
		if _, ok := s.keys[c.Get(apiKeyHeader)]; ok {
			if authTier == nil {
				return c.Next()
			}
			return authTier(c)
		}
		if anonTier == nil {
			return c.Next()
		}
		return anonTier(c)
	}
}

// ServeMetrics blocks serving the Prometheus registry on the monitoring
// port.
func ServeMetrics(port int, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
