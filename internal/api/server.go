package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/model"
	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/samcharles93/llamacore/pkg/ckpt"
	"golang.org/x/time/rate"
)

type Config struct {
	// MaxSessions bounds the number of live sessions. Zero means unbounded.
	MaxSessions int
	// RequestsPerSecond limits session and forward requests. Zero disables
	// the limit.
	RequestsPerSecond float64
	Burst             int
	// Engine configures every session's engine.
	Engine model.Options
}

type Server struct {
	file     *ckpt.File
	sessions *SessionStore
	limiter  *rate.Limiter
	metrics  http.Handler
	clock    func() time.Time
	log      logger.Logger
}

// NewServer serves sessions over file. The caller keeps ownership of file
// and must call Close on the server before closing it.
func NewServer(file *ckpt.File, cfg Config) *Server {
	log := cfg.Engine.Logger
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		file:     file,
		sessions: NewSessionStore(file, cfg.Engine, cfg.MaxSessions),
		metrics:  promhttp.Handler(),
		clock:    time.Now,
		log:      log,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)

	e.GET("/v1/config", s.handleConfig)
	e.POST("/v1/sessions", s.handleCreateSession, s.rateLimit)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
	e.POST("/v1/sessions/:id/forward", s.handleForward, s.rateLimit)
	e.POST("/v1/sessions/:id/reset", s.handleReset)
}

// Close closes all sessions.
func (s *Server) Close() error {
	return s.sessions.Close()
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests", "", "")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleConfig(c *echo.Context) error {
	cfg := s.file.Config()
	return c.JSON(http.StatusOK, ConfigResponse{
		Object:   "model.config",
		Config:   cfg,
		HeadSize: cfg.HeadSize(),
		KVDim:    cfg.KVDim(),
		Mapped:   s.file.Mapped(),
		Sessions: s.sessions.Len(),
	})
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	sess, err := s.sessions.Create(s.clock())
	if err != nil {
		s.log.Warn("create session failed", "error", err)
		return writeModelError(c, err)
	}
	s.log.Debug("session created", "id", sess.ID)
	return c.JSON(http.StatusCreated, sess.info())
}

func (s *Server) handleGetSession(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeModelError(c, err)
	}
	return c.JSON(http.StatusOK, sess.info())
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if err := s.sessions.Delete(id); err != nil {
		return writeModelError(c, err)
	}
	s.log.Debug("session deleted", "id", id)
	return c.JSON(http.StatusOK, DeletedResponse{ID: id, Object: "session.deleted", Deleted: true})
}

func (s *Server) handleReset(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeModelError(c, err)
	}
	sess.Reset()
	return c.JSON(http.StatusOK, sess.info())
}

func (s *Server) handleForward(c *echo.Context) error {
	req, err := decodeJSON[ForwardRequest](c)
	if err != nil {
		return writeModelError(c, err)
	}
	if req.Token == nil {
		return writeBadRequest(c, "token is required", "token")
	}
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeModelError(c, err)
	}

	pos, logits, err := sess.Forward(*req.Token, req.Pos)
	if err != nil {
		return writeModelError(c, err)
	}
	resp := ForwardResponse{
		Object: "forward",
		Pos:    pos,
		Argmax: tensor.ArgMax(logits),
	}
	if req.Logits == nil || *req.Logits {
		resp.Logits = logits
	}
	return c.JSON(http.StatusOK, resp)
}
