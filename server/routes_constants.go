package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth2 Routes
	RouteOAuthAuthorize = "/oauth/authorize"
	RouteOAuthCallback  = "/oauth/callback"
	RouteOAuthToken     = "/oauth/token"
	RouteOAuthRevoke    = "/oauth/revoke"

	// Introspection for resource servers
	RouteUserInfo = "/userinfo"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
