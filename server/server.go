package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/membank/authserver/auth"
	"github.com/membank/authserver/internal/config"
	"github.com/membank/authserver/internal/obs"
)

type Server struct {
	env    string // Environment (e.g., "local", "production")
	mux    *http.ServeMux
	routes []string
	config *config.AppConfig
	auth   *auth.Service
	log    zerolog.Logger
}

func New(cfg *config.AppConfig, authService *auth.Service, logger zerolog.Logger) (*Server, error) {
	if authService == nil {
		return nil, fmt.Errorf("[Server New] authorization service is required")
	}

	s := &Server{
		env:    cfg.Env,
		mux:    http.NewServeMux(),
		config: cfg,
		auth:   authService,
		log:    logger,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	tokenLimiter := RateLimitMiddleware(s.config.RateLimit.TokenPerSecond, s.config.RateLimit.TokenBurst)

	// OAuth2 API routes
	s.RegisterRouteHandler("GET "+RouteOAuthAuthorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuthCallback, ChainMiddleware(s.Callback(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuthToken, ChainMiddleware(s.Token(), s.APIMiddleware(tokenLimiter)...))
	s.RegisterRouteHandler("POST "+RouteOAuthRevoke, ChainMiddleware(s.Revoke(), s.APIMiddleware(tokenLimiter)...))

	// Protected routes (require a valid access token)
	s.RegisterRouteHandler("GET "+RouteUserInfo, ChainMiddleware(s.UserInfo(), s.APIMiddleware()...))

	// Operational routes
	s.RegisterRouteFunc("GET "+RouteHealth, s.Health())
	s.RegisterRouteHandler("GET "+RouteMetrics, obs.Handler())
}

func (s *Server) logRoutes() {
	if s.isProduction() {
		return // Skip logging outside development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(s.log, parts[0], parts[1])
		} else {
			logRoute(s.log, "", parts[0])
		}
	}
}

func (s *Server) isProduction() bool {
	return strings.EqualFold(s.env, "production") || strings.EqualFold(s.env, "prod")
}

func logRoute(logger zerolog.Logger, method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	logger.Info().Msgf("[%-19s] %s", displayMethod, path)
}
