// Package server wires the HTTP transport: an ada router carrying the
// standard middleware stack (recover, server, cors, requestid, log,
// telemetry), bearer-token principal resolution, and the handlers for the
// five sync endpoints plus the admin escape hatches.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/rakunlabs/ada"
	"github.com/rakunlabs/logi"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/aicove/syncd/internal/addons/admin"
	"github.com/aicove/syncd/internal/addons/backup"
	"github.com/aicove/syncd/internal/addons/keys"
	"github.com/aicove/syncd/internal/addons/memorybank"
	"github.com/aicove/syncd/internal/config"
	"github.com/aicove/syncd/internal/principal"
	"github.com/aicove/syncd/internal/reaper"
	"github.com/aicove/syncd/internal/sync"
)

type Server struct {
	config config.Server

	server *ada.Server

	engine   *sync.Engine
	reaper   *reaper.Reaper
	resolver *principal.Resolver
	adminKey string

	// External collaborator add-ons. Each is optional: a nil field simply
	// 503s its routes rather than failing startup.
	backup backup.Store
	keys   keys.Pool
	memory *memorybank.Bank
	admin  *admin.Overview
}

// Option configures an optional external-collaborator add-on on the Server.
type Option func(*Server)

func WithBackup(store backup.Store) Option {
	return func(s *Server) { s.backup = store }
}

func WithKeys(pool keys.Pool) Option {
	return func(s *Server) { s.keys = pool }
}

func WithMemoryBank(bank *memorybank.Bank) Option {
	return func(s *Server) { s.memory = bank }
}

func WithAdmin(overview *admin.Overview) Option {
	return func(s *Server) { s.admin = overview }
}

// New builds the router and registers every handler. cfg.BearerSigningKey
// must be set for any authenticated route to resolve a principal;
// cfg.AdminSecret gates the two admin escape-hatch endpoints. The
// cloud-triggers add-on is wired separately into the engine via
// sync.Engine.SetTriggers, since it fires from the push path rather than
// its own route.
func New(cfg config.Server, engine *sync.Engine, rp *reaper.Reaper, opts ...Option) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:   cfg,
		server:   mux,
		engine:   engine,
		reaper:   rp,
		resolver: principal.NewResolver(cfg.BearerSigningKey),
		adminKey: cfg.AdminSecret,
	}

	for _, opt := range opts {
		opt(s)
	}

	baseGroup := mux.Group(cfg.BasePath)
	apiGroup := baseGroup.Group("/api/v1")

	apiGroup.Use(s.authMiddleware())
	apiGroup.GET("/scopes", s.GetScopesAPI)
	apiGroup.PUT("/scopes", s.PutScopesAPI)
	apiGroup.GET("/pull", s.PullAPI)
	apiGroup.POST("/push", s.PushAPI)
	apiGroup.GET("/recycle-bin", s.RecycleBinAPI)

	apiGroup.PUT("/backup", s.PutBackupAPI)
	apiGroup.GET("/backup/*", s.GetBackupAPI)

	apiGroup.POST("/keys/lease", s.LeaseKeyAPI)
	apiGroup.POST("/keys/release", s.ReleaseKeyAPI)

	apiGroup.POST("/memory", s.PutMemoryAPI)
	apiGroup.GET("/memory/search", s.SearchMemoryAPI)

	adminGroup := baseGroup.Group("/admin")
	adminGroup.Use(s.adminAuthMiddleware())
	adminGroup.POST("/purge-expired", s.PurgeExpiredAPI)
	adminGroup.GET("/overview", s.AdminOverviewAPI)

	return s
}

func (s *Server) Start(ctx context.Context) error {
	logi.Ctx(ctx).Info("starting http server", "host", s.config.Host, "port", s.config.Port)
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

// authMiddleware resolves the bearer token into a principal.Principal and
// stashes it on the request context; handlers retrieve it via principalFrom.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := s.resolver.FromRequest(r)
			if err != nil {
				httpResponse(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalCtxKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminAuthMiddleware protects the operator escape-hatch endpoints with the
// admin_key query parameter. If no admin secret is configured, both
// endpoints 403 unconditionally.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.adminKey == "" {
				httpResponse(w, "admin endpoint disabled", http.StatusForbidden)
				return
			}

			if r.URL.Query().Get("admin_key") != s.adminKey {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type principalCtxKey struct{}

func principalFrom(r *http.Request) *principal.Principal {
	p, _ := r.Context().Value(principalCtxKey{}).(*principal.Principal)
	return p
}
