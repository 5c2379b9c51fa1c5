package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"linkvault/cfg"
	"linkvault/svc/auth"
	"linkvault/svc/db"
	"linkvault/svc/lim"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	lim        *lim.Limiter
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, u *svc.Users, jwt *auth.JWTManager, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, jwt, c)
	s := &Server{
		router: r,
		paste:  p,
		lim:    l,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Mount("/debug", middleware.Profiler())

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.Observe)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.OptionalAuth)

		hdl := &Hdl{paste: p, users: u, cfg: c}

		// Downloads stream large bodies, so they skip the context timeout
		// that bounds every other endpoint.
		r.With(mw.RateLimit("download")).Get("/download/{id}", hdl.Download)

		r.Group(func(r chi.Router) {
			r.Use(mw.ContextTimeout)
			r.With(mw.RateLimit("create")).Post("/upload", hdl.Upload)
			r.With(mw.RateLimit("read")).Get("/paste/{id}", hdl.GetPaste)
			r.With(mw.RateLimit("delete")).Delete("/paste/{id}", hdl.DeletePaste)
			r.Route("/auth", func(r chi.Router) {
				r.With(mw.RateLimit("auth")).Post("/register", hdl.Register)
				r.With(mw.RateLimit("auth")).Post("/login", hdl.Login)
				r.With(mw.RateLimit("read"), mw.RequireAuth).Get("/me", hdl.Me)
			})
		})
	})

	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.httpServer.ReadTimeout = read
	s.httpServer.WriteTimeout = write
	s.httpServer.IdleTimeout = idle
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
